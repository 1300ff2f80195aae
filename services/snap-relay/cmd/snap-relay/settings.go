package main

import (
	"time"

	"github.com/firesnaps/snaprelay/libs/config"
	"github.com/firesnaps/snaprelay/libs/db"
	"github.com/firesnaps/snaprelay/services/snap-relay/internal/envelope"
	"github.com/firesnaps/snaprelay/services/snap-relay/internal/relay"
)

type settings struct {
	Port        string
	Brokers     string
	GroupID     string
	Topics      []string
	RedisURL    string
	MongoURI    string
	MongoDB     string
	Bucket      string
	Region      string
	DB          db.Config
	JoinTimeout time.Duration

	// ReadyCheckTimeout bounds each dependency check on /readyz; StallTimeout is how long
	// the worker may go without finishing a round before /readyz reports it.
	ReadyCheckTimeout time.Duration
	StallTimeout      time.Duration

	Consumer relay.ConsumerConfig
}

func loadSettings() (settings, error) {
	var (
		s   settings
		err error
	)
	if s.Port, err = config.Port("PORT", "8090"); err != nil {
		return s, err
	}
	if s.Brokers, err = config.RequiredString("KAFKA_BROKERS"); err != nil {
		return s, err
	}
	s.GroupID = config.String("KAFKA_GROUP_ID", "msg-queue-for-external-services")
	s.Topics = config.List("KAFKA_TOPICS", envelope.Topics())

	if s.RedisURL, err = config.RequiredString("REDIS_URL"); err != nil {
		return s, err
	}
	if s.MongoURI, err = config.RequiredString("MONGO_URI"); err != nil {
		return s, err
	}
	s.MongoDB = config.String("MONGO_DB_NAME", "firesnaps")
	if s.Bucket, err = config.RequiredString("AWS_S3_BUCKET_NAME"); err != nil {
		return s, err
	}
	s.Region = config.String("AWS_REGION", "us-east-1")
	s.DB.URL = config.String("DATABASE_URL", "")
	maxConns, err := config.PositiveInt("DB_MAX_CONNS", 4)
	if err != nil {
		return s, err
	}
	s.DB.MaxConns = int32(maxConns)

	if s.Consumer.BatchSize, err = config.PositiveInt("RELAY_BATCH_SIZE", 150); err != nil {
		return s, err
	}
	if s.Consumer.RecordsPerSecond, err = config.PositiveFloat("RELAY_REQ_PER_SECOND", 250); err != nil {
		return s, err
	}
	if s.Consumer.PollTimeout, err = config.Duration("RELAY_POLL_TIMEOUT", time.Second); err != nil {
		return s, err
	}
	if s.Consumer.IdlePause, err = config.Duration("RELAY_IDLE_PAUSE", 500*time.Millisecond); err != nil {
		return s, err
	}
	if s.Consumer.ErrorPause, err = config.Duration("RELAY_ERROR_PAUSE", time.Second); err != nil {
		return s, err
	}
	if s.JoinTimeout, err = config.Duration("RELAY_JOIN_TIMEOUT", 5*time.Second); err != nil {
		return s, err
	}
	if s.ReadyCheckTimeout, err = config.Duration("READY_CHECK_TIMEOUT", 2*time.Second); err != nil {
		return s, err
	}
	if s.StallTimeout, err = config.Duration("RELAY_STALL_TIMEOUT", 2*time.Minute); err != nil {
		return s, err
	}
	return s, nil
}
