package health

import (
	"context"
	"fmt"
	"net/http"

	goredis "github.com/redis/go-redis/v9"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"gorm.io/gorm"
)

// Database pings the underlying sql.DB of a GORM handle.
func Database(db *gorm.DB) CheckFunc {
	return func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return fmt.Errorf("get sql db: %w", err)
		}
		return sqlDB.PingContext(ctx)
	}
}

// Redis pings a Redis server.
func Redis(client *goredis.Client) CheckFunc {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}

// DiskUsage fails when usage of path exceeds maxUsedPercent.
func DiskUsage(path string, maxUsedPercent float64) CheckFunc {
	return func(ctx context.Context) error {
		usage, err := disk.UsageWithContext(ctx, path)
		if err != nil {
			return fmt.Errorf("read disk usage: %w", err)
		}
		if usage.UsedPercent > maxUsedPercent {
			return fmt.Errorf("disk usage %.1f%% exceeds %.1f%%", usage.UsedPercent, maxUsedPercent)
		}
		return nil
	}
}

// MemoryUsage fails when virtual memory usage exceeds maxUsedPercent.
func MemoryUsage(maxUsedPercent float64) CheckFunc {
	return func(ctx context.Context) error {
		vm, err := mem.VirtualMemoryWithContext(ctx)
		if err != nil {
			return fmt.Errorf("read memory usage: %w", err)
		}
		if vm.UsedPercent > maxUsedPercent {
			return fmt.Errorf("memory usage %.1f%% exceeds %.1f%%", vm.UsedPercent, maxUsedPercent)
		}
		return nil
	}
}

// ExternalHTTP checks that an upstream dependency answers with a 2xx.
func ExternalHTTP(client *http.Client, url string) CheckFunc {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
		}
		return nil
	}
}
