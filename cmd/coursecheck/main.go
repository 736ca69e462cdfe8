package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

// coursecheck pings every service's health endpoints and reports readiness.
// It reads a YAML manifest mapping service names to base URLs.

type manifest struct {
	Services map[string]string `yaml:"services"`
}

type result struct {
	Service string
	Healthy bool
	Ready   bool
	Detail  string
}

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <services.yaml>\n", os.Args[0])
		os.Exit(2)
	}

	m, err := loadManifest(os.Args[1])
	if err != nil {
		exitErr(err)
	}
	if len(m.Services) == 0 {
		exitErr(fmt.Errorf("%s lists no services", os.Args[1]))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client := &http.Client{Timeout: 5 * time.Second}
	var mu sync.Mutex
	results := make([]result, 0, len(m.Services))

	group, ctx := errgroup.WithContext(ctx)
	for name, baseURL := range m.Services {
		name, baseURL := name, baseURL
		group.Go(func() error {
			res := probe(ctx, client, name, baseURL)
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	_ = group.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Service < results[j].Service })

	failed := false
	for _, res := range results {
		status := "ok"
		if !res.Healthy || !res.Ready {
			status = "FAIL"
			failed = true
		}
		fmt.Printf("%-10s %-5s healthy=%-5t ready=%-5t %s\n",
			res.Service, status, res.Healthy, res.Ready, res.Detail)
	}
	if failed {
		os.Exit(1)
	}
	fmt.Println("All services healthy.")
}

func probe(ctx context.Context, client *http.Client, name, baseURL string) result {
	res := result{Service: name}
	base := strings.TrimRight(baseURL, "/")

	healthy, detail := check(ctx, client, base+"/healthz")
	res.Healthy = healthy
	if !healthy {
		res.Detail = detail
		return res
	}

	// Frontend has no readiness probe, only liveness.
	ready, detail := check(ctx, client, base+"/readyz")
	if detail == "status 404" {
		ready = true
	}
	res.Ready = ready
	if !ready {
		res.Detail = detail
	}
	return res
}

func check(ctx context.Context, client *http.Client, url string) (bool, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err.Error()
	}
	resp, err := client.Do(req)
	if err != nil {
		return false, err.Error()
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var body struct {
			Checks []struct {
				Name  string `json:"name"`
				Error string `json:"error"`
			} `json:"checks"`
		}
		if json.NewDecoder(resp.Body).Decode(&body) == nil {
			for _, c := range body.Checks {
				if c.Error != "" {
					return false, fmt.Sprintf("%s: %s", c.Name, c.Error)
				}
			}
		}
		return false, fmt.Sprintf("status %d", resp.StatusCode)
	}
	return true, ""
}

func loadManifest(path string) (manifest, error) {
	var m manifest
	raw, err := os.ReadFile(path)
	if err != nil {
		return m, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return m, fmt.Errorf("parse %s: %w", path, err)
	}
	return m, nil
}

func exitErr(err error) {
	fmt.Fprintln(os.Stderr, err.Error())
	os.Exit(1)
}
