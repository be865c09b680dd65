package health

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// Pinger is the slice of the store the database probe needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Database probes persistence connectivity. The pipeline cannot run
// without it, so the probe is vital.
func Database(db Pinger) Probe {
	return Probe{
		Name:  "database",
		Vital: true,
		Check: func(ctx context.Context) error {
			return db.Ping(ctx)
		},
	}
}

// DiskSpace probes free space on the filesystem holding path. minFreeBytes
// of zero disables the threshold and only checks that the filesystem is
// reachable.
func DiskSpace(path string, minFreeBytes uint64) Probe {
	return Probe{
		Name:  "disk",
		Vital: true,
		Check: func(_ context.Context) error {
			var st unix.Statfs_t
			if err := unix.Statfs(path, &st); err != nil {
				return fmt.Errorf("statfs %s: %w", path, err)
			}
			free := st.Bavail * uint64(st.Bsize)
			if minFreeBytes > 0 && free < minFreeBytes {
				return fmt.Errorf("%s: %d bytes free, need %d", path, free, minFreeBytes)
			}
			return nil
		},
	}
}

// StagingDir probes that the audio staging directory exists and is
// writable. Download workers park everything they fetch there.
func StagingDir(dir string) Probe {
	return Probe{
		Name: "staging",
		Check: func(_ context.Context) error {
			info, err := os.Stat(dir)
			if err != nil {
				return err
			}
			if !info.IsDir() {
				return fmt.Errorf("%s is not a directory", dir)
			}
			marker := filepath.Join(dir, ".health")
			if err := os.WriteFile(marker, nil, 0o644); err != nil {
				return fmt.Errorf("staging not writable: %w", err)
			}
			return os.Remove(marker)
		},
	}
}

// External probes an upstream provider by issuing a GET against its base
// URL. Any HTTP response counts as reachable; a 5xx means the provider is
// up but ailing.
func External(name, url string, client *http.Client) Probe {
	if client == nil {
		client = http.DefaultClient
	}
	return Probe{
		Name: name,
		Check: func(ctx context.Context) error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return err
			}
			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("%s unreachable: %w", name, err)
			}
			resp.Body.Close()
			if resp.StatusCode >= http.StatusInternalServerError {
				return fmt.Errorf("%s returned %d", name, resp.StatusCode)
			}
			return nil
		},
	}
}
