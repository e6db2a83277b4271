package main

import (
	"bytes"
	"fmt"
	"net/http"
	"sync"
	"time"
)

func main() {
	start := time.Now()
	var wg sync.WaitGroup

	totalRequests := 50

	fmt.Printf("Starting booking run with %d requests...\n", totalRequests)

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			jsonBody := []byte(fmt.Sprintf(
				`{"from": "2026-09-0%d", "to": "2026-09-1%d", "room": "suite-%d", "road_bike_requested": 1, "dirt_bike_requested": 1, "amount": 250.0}`,
				id%9+1, id%9+1, id))

			resp, err := http.Post("http://localhost:8080/booking", "application/json", bytes.NewBuffer(jsonBody))
			if err != nil {
				fmt.Printf("Request %d failed: %v\n", id, err)
				return
			}
			resp.Body.Close()
		}(i)
	}

	wg.Wait()
	duration := time.Since(start)

	fmt.Printf("Finished %d requests in %v\n", totalRequests, duration)
}
