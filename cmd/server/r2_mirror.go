package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"trainyard.dev/internal/persistence/r2s3"
)

// buildR2Mirror returns nil unless TY_R2_MIRROR is set. Snapshots written to
// tracksDir are then copied to the bucket in the background.
func buildR2Mirror(tracksDir string, logger *log.Logger) (*r2s3.Mirror, error) {
	if !envBool("TY_R2_MIRROR", false) {
		return nil, nil
	}

	endpoint := strings.TrimSpace(os.Getenv("TY_R2_ENDPOINT"))
	bucket := strings.TrimSpace(os.Getenv("TY_R2_BUCKET"))
	accessKeyID := strings.TrimSpace(os.Getenv("TY_R2_ACCESS_KEY_ID"))
	secretAccessKey := strings.TrimSpace(os.Getenv("TY_R2_SECRET_ACCESS_KEY"))
	prefix := strings.TrimSpace(os.Getenv("TY_R2_PREFIX"))

	if endpoint == "" || bucket == "" || accessKeyID == "" || secretAccessKey == "" {
		return nil, fmt.Errorf("TY_R2_MIRROR=true but TY_R2_ENDPOINT/TY_R2_BUCKET/TY_R2_ACCESS_KEY_ID/TY_R2_SECRET_ACCESS_KEY are not fully set")
	}

	client, err := r2s3.New(endpoint, bucket, accessKeyID, secretAccessKey)
	if err != nil {
		return nil, err
	}
	client.WithRegion(os.Getenv("TY_R2_REGION"))

	// One worker keeps uploads in save order.
	return r2s3.NewMirror(client, tracksDir, prefix, 1, envInt("TY_R2_QUEUE", 256), logger), nil
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
