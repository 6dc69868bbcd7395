package metrics

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// Prefix is shared by every collector this package registers.
const Prefix = "sitesentinel_"

// WriteTextfile writes the current sitesentinel_ metrics from the default
// gatherer to path for node_exporter's textfile collector.
func WriteTextfile(path string) error {
	return writeGathered(prometheus.DefaultGatherer, path)
}

// RunTextfile rewrites the textfile every interval until ctx is done.
// Write errors are reported through onErr and never stop the loop.
func RunTextfile(ctx context.Context, path string, interval time.Duration, onErr func(error)) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if err := WriteTextfile(path); err != nil && onErr != nil {
			onErr(err)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// writeGathered encodes matching families to a temp file in the target
// directory and renames it into place so readers never see a partial file.
func writeGathered(g prometheus.Gatherer, path string) error {
	mfs, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}

	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create textfile: %w", err)
	}
	tmp := f.Name()

	enc := expfmt.NewEncoder(f, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range mfs {
		if !strings.HasPrefix(mf.GetName(), Prefix) {
			continue
		}
		if err := enc.Encode(mf); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("encode %s: %w", mf.GetName(), err)
		}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
