package browser

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ScreenshotDir is the per-run screenshot directory handle.
type ScreenshotDir struct {
	now  func() time.Time
	root string
}

// NewScreenshotDir creates <base>/<runID> and returns a handle to it.
func NewScreenshotDir(base, runID string) (*ScreenshotDir, error) {
	root := filepath.Join(base, runID)
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create screenshot directory: %w", err)
	}
	return &ScreenshotDir{root: root, now: time.Now}, nil
}

// Root returns the directory path.
func (d *ScreenshotDir) Root() string {
	return d.root
}

// Path returns a free file name step_NN_YYYYmmdd_HHMMSS[_suffix].png for
// step. A numeric counter is appended when the name is already taken.
func (d *ScreenshotDir) Path(step int, suffix string) string {
	name := fmt.Sprintf("step_%02d_%s", step, d.now().Format("20060102_150405"))
	if suffix != "" {
		name += "_" + suffix
	}

	path := filepath.Join(d.root, name+".png")
	for i := 2; fileExists(path); i++ {
		path = filepath.Join(d.root, fmt.Sprintf("%s_%d.png", name, i))
	}
	return path
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
