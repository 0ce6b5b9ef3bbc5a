// Command webhook-receiver is a throwaway endpoint for exercising sleepyhooks
// locally. Point instant and delayed endpoints at /hook/<anything>; use
// ?status=500 on the endpoint URL to simulate a failing receiver.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	headerConfigID = "X-Sleepyhooks-Config-Id"
	headerClass    = "X-Sleepyhooks-Delivery"
	maxStored      = 50
)

type delivery struct {
	ReceivedAt string `json:"received_at"`
	Path       string `json:"path"`
	ConfigID   string `json:"config_id,omitempty"`
	Class      string `json:"class,omitempty"`
	Status     int    `json:"status"`
	Body       string `json:"body"`
}

type stats struct {
	Count   int64            `json:"count"`
	ByClass map[string]int64 `json:"by_class"`
	Last    []delivery       `json:"last"`
	Since   string           `json:"since"`
}

type receiver struct {
	mu            sync.Mutex
	count         int64
	byClass       map[string]int64
	last          []delivery
	since         time.Time
	defaultStatus int
}

func newReceiver(defaultStatus int) *receiver {
	return &receiver{
		byClass:       make(map[string]int64),
		since:         time.Now().UTC(),
		defaultStatus: defaultStatus,
	}
}

func main() {
	addr := ":8081"
	if v := os.Getenv("ADDR"); v != "" {
		addr = v
	}

	status := http.StatusOK
	if v := os.Getenv("STATUS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 100 || n > 599 {
			log.Fatalf("invalid STATUS %q", v)
		}
		status = n
	}

	rcv := newReceiver(status)
	mux := http.NewServeMux()
	mux.HandleFunc("/hook/", rcv.hook)
	mux.HandleFunc("/stats", rcv.stats)
	mux.HandleFunc("/reset", rcv.reset)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, "ok")
	})

	log.Printf("webhook-receiver listening on %s (default status %d)", addr, status)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	log.Fatal(srv.ListenAndServe())
}

func (rc *receiver) hook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	status := rc.defaultStatus
	if v := r.URL.Query().Get("status"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 100 && n <= 599 {
			status = n
		}
	}

	d := delivery{
		ReceivedAt: time.Now().UTC().Format(time.RFC3339Nano),
		Path:       strings.TrimPrefix(r.URL.Path, "/hook"),
		ConfigID:   r.Header.Get(headerConfigID),
		Class:      r.Header.Get(headerClass),
		Status:     status,
		Body:       string(body),
	}

	rc.mu.Lock()
	rc.count++
	rc.byClass[d.Class]++
	rc.last = append(rc.last, d)
	if len(rc.last) > maxStored {
		rc.last = rc.last[len(rc.last)-maxStored:]
	}
	current := rc.count
	rc.mu.Unlock()

	log.Printf("#%d %s delivery for %s on %s -> %d: %s", current, d.Class, d.ConfigID, d.Path, status, d.Body)
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"received":%d}`, current)
}

func (rc *receiver) stats(w http.ResponseWriter, _ *http.Request) {
	rc.mu.Lock()
	s := stats{
		Count:   rc.count,
		ByClass: make(map[string]int64, len(rc.byClass)),
		Last:    append([]delivery(nil), rc.last...),
		Since:   rc.since.Format(time.RFC3339),
	}
	for k, v := range rc.byClass {
		s.ByClass[k] = v
	}
	rc.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s)
}

func (rc *receiver) reset(w http.ResponseWriter, _ *http.Request) {
	rc.mu.Lock()
	rc.count = 0
	rc.byClass = make(map[string]int64)
	rc.last = nil
	rc.since = time.Now().UTC()
	rc.mu.Unlock()
	fmt.Fprintln(w, "reset")
}
