package aggregate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prinquiel/messaging-analytics-etl/internal/domain"
)

func spillDirOf(rawPath string) string {
	return filepath.Dir(rawPath)
}

func writeTransformed(path string, output domain.TransformedOutput) error {
	data, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("op=aggregate.writeTransformed: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("op=aggregate.writeTransformed path=%s: %w", path, err)
	}
	return nil
}
