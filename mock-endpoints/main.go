package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync/atomic"
	"time"
)

var requestCount atomic.Int64

func main() {
	port := "9090"
	if p := os.Getenv("PORT"); p != "" {
		port = p
	}

	// Healthy consumer — always acknowledges
	http.HandleFunc("/consumer/ok", func(w http.ResponseWriter, r *http.Request) {
		count := requestCount.Add(1)
		logRequest(r, count, 200)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "received"})
	})

	// Slow consumer — exceeds the 5s call deadline
	http.HandleFunc("/consumer/slow", func(w http.ResponseWriter, r *http.Request) {
		count := requestCount.Add(1)
		time.Sleep(6 * time.Second)
		logRequest(r, count, 200)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "received (slow)"})
	})

	// Broken consumer — always refuses
	http.HandleFunc("/consumer/fail", func(w http.ResponseWriter, r *http.Request) {
		count := requestCount.Add(1)
		logRequest(r, count, 500)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "internal server error"})
	})

	// Flaky consumer — fails the first attempt of each message, succeeds on
	// redelivery. Useful for watching the fast-path retry close the gap.
	var flakySeen atomic.Int64
	http.HandleFunc("/consumer/flaky", func(w http.ResponseWriter, r *http.Request) {
		count := requestCount.Add(1)
		w.Header().Set("Content-Type", "application/json")

		if r.Header.Get("X-Bus-Attempt") == "1" && flakySeen.Add(1)%2 == 1 {
			logRequest(r, count, 503)
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"error": "try again"})
			return
		}

		logRequest(r, count, 200)
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "received (retry)"})
	})

	// Stats endpoint — shows request count
	http.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int64{"total_requests": requestCount.Load()})
	})

	log.Printf("Mock consumer server starting on :%s", port)
	log.Printf("  POST /consumer/ok     -> 200 OK")
	log.Printf("  POST /consumer/slow   -> 200 OK (6s delay, trips the call deadline)")
	log.Printf("  POST /consumer/fail   -> 500 Error")
	log.Printf("  POST /consumer/flaky  -> 503 on first attempt, 200 on redelivery")
	log.Printf("  GET  /stats           -> request count")

	if err := http.ListenAndServe(":"+port, nil); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func logRequest(r *http.Request, count int64, status int) {
	fmt.Printf("[#%d] %s %s -> %d | sig=%s app=%s code=%s uuid=%s attempt=%s\n",
		count,
		r.Method,
		r.URL.Path,
		status,
		truncate(r.Header.Get("X-Bus-Signature"), 16),
		r.Header.Get("X-Bus-AppID"),
		r.Header.Get("X-Bus-Code"),
		truncate(r.Header.Get("X-Bus-UUID"), 8),
		r.Header.Get("X-Bus-Attempt"),
	)
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
