package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/firesnaps/snaprelay/libs/config"
	"github.com/firesnaps/snaprelay/libs/runtime"
	"github.com/firesnaps/snaprelay/services/snap-relay/internal/intents"
	"github.com/firesnaps/snaprelay/services/snap-relay/internal/relay"
)

// relay-sim publishes sample intents so a running snap-relay has something to apply.
func main() {
	deliveryTimeout, err := config.Duration("RELAY_DELIVERY_TIMEOUT", 15*time.Second)
	if err != nil {
		fatal(err.Error())
	}
	var (
		brokers  = flag.String("brokers", config.String("KAFKA_BROKERS", "localhost:9092"), "kafka brokers, comma separated")
		scenario = flag.String("scenario", "session", "session | otp | snap | caption | delete-account")
		userID   = flag.Int64("user-id", 1, "user id")
		email    = flag.String("email", "dev@firesnaps.local", "email for the otp scenario")
		file     = flag.String("file", "", "image file for the snap scenario")
		s3Key    = flag.String("s3-key", "", "object key for the caption scenario")
		caption  = flag.String("caption", "hello from relay-sim", "caption text")
		session  = flag.String("session-key", "", "session key for delete-account")
		bucket   = flag.String("bucket", config.String("AWS_S3_BUCKET_NAME", "firesnaps"), "bucket used to build snap urls")
		region   = flag.String("region", config.String("AWS_REGION", "us-east-1"), "region used to build snap urls")
		timeout  = flag.Duration("delivery-timeout", deliveryTimeout, "how long to wait for broker acknowledgement")
	)
	flag.Parse()

	logger := runtime.NewLogger("relay-sim")
	producer, err := relay.NewProducer(logger, relay.ProducerConfig{Brokers: *brokers, DeliveryTimeout: *timeout})
	if err != nil {
		fatal(err.Error())
	}
	defer producer.Close()

	in := intents.New(producer, *bucket, *region)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch strings.ToLower(*scenario) {
	case "session":
		key, err := in.AddNewSession(ctx, *userID)
		if err != nil {
			fatal(err.Error())
		}
		fmt.Printf("session_key=%s\n", key)
	case "otp":
		if err := in.AddOTP(ctx, *email, fmt.Sprintf("%06d", time.Now().UnixNano()%1000000)); err != nil {
			fatal(err.Error())
		}
		fmt.Printf("otp queued for %s\n", *email)
	case "snap":
		if *file == "" {
			fatal("-file is required for the snap scenario")
		}
		body, err := os.ReadFile(*file)
		if err != nil {
			fatal(err.Error())
		}
		up, err := in.UploadSnap(ctx, *userID, *file, contentType(*file), body)
		if err != nil {
			fatal(err.Error())
		}
		if err := in.AddImgTags(ctx, *userID, up.S3Key, []string{"relay-sim"}); err != nil {
			fatal(err.Error())
		}
		fmt.Printf("s3_key=%s url=%s\n", up.S3Key, up.URL)
	case "caption":
		if *s3Key == "" {
			fatal("-s3-key is required for the caption scenario")
		}
		if err := in.WriteImgCaption(ctx, *s3Key, *caption); err != nil {
			fatal(err.Error())
		}
		fmt.Println("caption queued")
	case "delete-account":
		if err := in.DeleteAccount(ctx, *userID, *session); err != nil {
			fatal(err.Error())
		}
		fmt.Printf("deletes queued for user %d\n", *userID)
	default:
		fatal("unknown scenario: " + *scenario)
	}
}

func contentType(name string) string {
	switch {
	case strings.HasSuffix(strings.ToLower(name), ".png"):
		return "image/png"
	case strings.HasSuffix(strings.ToLower(name), ".gif"):
		return "image/gif"
	default:
		return "image/jpeg"
	}
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}
