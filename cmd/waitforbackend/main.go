package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"storefront/shopclient/internal/apiclient"
	"storefront/shopclient/internal/session"
	"storefront/shopclient/internal/storage"
)

func main() {
	_ = godotenv.Load()

	baseURL := os.Getenv("API_BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8000/api"
	}

	timeout := 60 * time.Second
	if raw := os.Getenv("WAIT_FOR_BACKEND_TIMEOUT_SEC"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs <= 0 {
			fmt.Fprintf(os.Stderr, "invalid WAIT_FOR_BACKEND_TIMEOUT_SEC: %q\n", raw)
			os.Exit(2)
		}
		timeout = time.Duration(secs) * time.Second
	}

	// The probe is anonymous, so an empty in-memory credential slot is enough.
	creds, err := session.NewCredentials(storage.NewMemoryStore(), "token")
	if err != nil {
		fmt.Fprintf(os.Stderr, "create credential slot: %v\n", err)
		os.Exit(2)
	}
	client, err := apiclient.New(apiclient.Config{BaseURL: baseURL, Timeout: 2 * time.Second}, creds)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create api client: %v\n", err)
		os.Exit(2)
	}

	deadline := time.Now().Add(timeout)
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := client.Ping(ctx)
		cancel()
		if err == nil {
			fmt.Println("storefront backend ready")
			return
		}
		if time.Now().After(deadline) {
			fmt.Fprintf(os.Stderr, "storefront backend not ready within %s: %v\n", timeout, err)
			os.Exit(1)
		}
		time.Sleep(2 * time.Second)
	}
}
