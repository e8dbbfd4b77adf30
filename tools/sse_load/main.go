// Command sse_load opens many balance stream connections and reports how many
// balance events arrived and whether any client saw the balance drop from a
// positive value to zero between two consecutive events.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
)

type balanceEvent struct {
	DisplayValue string `json:"display_value"`
	Masked       bool   `json:"masked"`
}

// parseDisplayValue turns "$1,234.50" into a decimal. Masked or placeholder
// values report false.
func parseDisplayValue(v string) (decimal.Decimal, bool) {
	v = strings.TrimPrefix(strings.TrimSpace(v), "$")
	v = strings.ReplaceAll(v, ",", "")
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// streamStats is what one stream reported.
type streamStats struct {
	Events   int64
	Flickers []string
}

// readBalanceStream consumes SSE frames until r ends and counts balance
// events. A flicker is a positive value followed directly by zero.
func readBalanceStream(r io.Reader) (streamStats, error) {
	var (
		stats     streamStats
		eventName string
		last      decimal.Decimal
	)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		switch {
		case line == "" || line[0] == ':':
			eventName = ""
		case strings.HasPrefix(line, "event: "):
			eventName = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: ") && eventName == "balance":
			stats.Events++
			var ev balanceEvent
			if json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev) != nil || ev.Masked {
				continue
			}
			value, ok := parseDisplayValue(ev.DisplayValue)
			if !ok {
				continue
			}
			if last.IsPositive() && value.IsZero() {
				stats.Flickers = append(stats.Flickers, last.String())
			}
			last = value
		}
	}
	return stats, scanner.Err()
}

func main() {
	targetURL := flag.String("url", "http://localhost:8000/balance/stream", "SSE endpoint URL")
	connections := flag.Int("conns", 100, "number of concurrent connections to open")
	duration := flag.Duration("dur", 60*time.Second, "test duration")
	flag.Parse()

	if *connections <= 0 {
		log.Fatalf("invalid conns: %d", *connections)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *duration)
	defer cancel()

	log.Printf("starting SSE load: url=%s conns=%d duration=%s", *targetURL, *connections, *duration)
	client := &http.Client{Transport: &http.Transport{
		MaxConnsPerHost:     *connections,
		MaxIdleConnsPerHost: *connections,
		DisableCompression:  true,
	}}

	var (
		connected, connectErrs, events, flickers int64
		wg                                       sync.WaitGroup
	)
	start := time.Now()
	for i := 0; i < *connections; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, *targetURL, nil)
			if err != nil {
				atomic.AddInt64(&connectErrs, 1)
				return
			}
			req.Header.Set("Accept", "text/event-stream")
			resp, err := client.Do(req)
			if err != nil {
				atomic.AddInt64(&connectErrs, 1)
				return
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				atomic.AddInt64(&connectErrs, 1)
				return
			}

			atomic.AddInt64(&connected, 1)
			stats, _ := readBalanceStream(resp.Body)
			atomic.AddInt64(&events, stats.Events)
			atomic.AddInt64(&flickers, int64(len(stats.Flickers)))
			for _, from := range stats.Flickers {
				log.Printf("conn %d: balance dropped from %s to zero", id, from)
			}
		}(i)
	}
	wg.Wait()

	fmt.Printf("done: connected=%d connect_errs=%d events=%d flickers=%d elapsed=%s\n",
		connected, connectErrs, events, flickers, time.Since(start).Truncate(time.Millisecond))
	if flickers > 0 {
		os.Exit(1)
	}
}
