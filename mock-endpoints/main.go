// Command mock-endpoints runs a receiver with endpoints of varying behavior
// for exercising the dispatch engine locally: always-200, always-500, slow,
// flaky, and one that verifies the HMAC signature.
package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"time"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	secret := os.Getenv("WEBHOOK_SECRET")
	if secret == "" {
		secret = "dev-secret"
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {
		logRequest(logger, r, "ok")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"received": true}`))
	})

	mux.HandleFunc("/fail", func(w http.ResponseWriter, r *http.Request) {
		logRequest(logger, r, "fail")
		http.Error(w, "simulated receiver failure", http.StatusInternalServerError)
	})

	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		logRequest(logger, r, "slow")
		time.Sleep(35 * time.Second)
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/flaky", func(w http.ResponseWriter, r *http.Request) {
		logRequest(logger, r, "flaky")
		if rand.Intn(2) == 0 {
			http.Error(w, "flaky endpoint says no", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/verify", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "read error", http.StatusBadRequest)
			return
		}

		sig := strings.TrimPrefix(r.Header.Get("X-Webhook-Signature"), "sha256=")
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(body)
		want := hex.EncodeToString(mac.Sum(nil))

		if !hmac.Equal([]byte(sig), []byte(want)) {
			logger.Warn("signature mismatch", "got", sig, "want", want)
			http.Error(w, "bad signature", http.StatusUnauthorized)
			return
		}

		logger.Info("signature verified", "event", r.Header.Get("X-Webhook-Event"))
		w.WriteHeader(http.StatusOK)
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "9090"
	}
	logger.Info("mock endpoints listening", "port", port)
	if err := http.ListenAndServe(":"+port, mux); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func logRequest(logger *slog.Logger, r *http.Request, endpoint string) {
	logger.Info("webhook received",
		"endpoint", endpoint,
		"event", r.Header.Get("X-Webhook-Event"),
		"attempt", r.Header.Get("X-Webhook-Attempt"),
		"signed", r.Header.Get("X-Webhook-Signature") != "",
	)
}
