package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"pricescraper/pkg/logger"
)

// Checkpoint records how far a monthly valuation run got, keyed by the
// calendar month the run started in
type Checkpoint struct {
	Period    string            `json:"period"`
	RunID     string            `json:"run_id"`
	Outcomes  map[string]string `json:"outcomes"` // vehicle id -> outcome
	Persisted int               `json:"persisted"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
	Version   int               `json:"version"`
}

// OutcomePersisted is the outcome that marks a vehicle as finished
const OutcomePersisted = "persisted"

// Manager stores checkpoints as JSON files in one directory
type Manager struct {
	dir    string
	logger logger.Logger
}

// NewManager creates a manager rooted at dir, or at the platform data
// directory when dir is empty
func NewManager(dir string, log logger.Logger) (*Manager, error) {
	if dir == "" {
		dataDir, err := getDataDirectory()
		if err != nil {
			return nil, fmt.Errorf("failed to get data directory: %w", err)
		}
		dir = filepath.Join(dataDir, "checkpoints")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoints directory: %w", err)
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Manager{dir: dir, logger: log}, nil
}

// Path returns the file backing a period
func (m *Manager) Path(period string) string {
	return filepath.Join(m.dir, fmt.Sprintf("valuation-%s.checkpoint.json", period))
}

// Load reads the checkpoint for period; a missing file yields nil, nil
func (m *Manager) Load(period string) (*Checkpoint, error) {
	file, err := os.Open(m.Path(period))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open checkpoint file: %w", err)
	}
	defer file.Close()

	var cp Checkpoint
	if err := json.NewDecoder(file).Decode(&cp); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	if cp.Outcomes == nil {
		cp.Outcomes = make(map[string]string)
	}

	m.logger.InfoWithFields("Checkpoint loaded", map[string]interface{}{
		"period":    cp.Period,
		"persisted": cp.Persisted,
		"recorded":  len(cp.Outcomes),
	})
	return &cp, nil
}

// Open resumes the period's checkpoint or starts a fresh one
func (m *Manager) Open(period, runID string) (*Checkpoint, error) {
	cp, err := m.Load(period)
	if err != nil {
		return nil, err
	}
	if cp != nil {
		cp.RunID = runID
		return cp, nil
	}

	now := time.Now()
	cp = &Checkpoint{
		Period:    period,
		RunID:     runID,
		Outcomes:  make(map[string]string),
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}
	if err := m.Save(cp); err != nil {
		return nil, fmt.Errorf("failed to save initial checkpoint: %w", err)
	}
	return cp, nil
}

// Save writes the checkpoint through a temp file and a rename
func (m *Manager) Save(cp *Checkpoint) error {
	cp.UpdatedAt = time.Now()
	path := m.Path(cp.Period)
	tempPath := path + ".tmp"

	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary checkpoint file: %w", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(cp); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync checkpoint file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close checkpoint file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace checkpoint file: %w", err)
	}
	return nil
}

// Record stores one vehicle's outcome and saves
func (m *Manager) Record(cp *Checkpoint, vehicleID, outcome string) error {
	prev := cp.Outcomes[vehicleID]
	cp.Outcomes[vehicleID] = outcome
	if outcome == OutcomePersisted && prev != OutcomePersisted {
		cp.Persisted++
	}
	return m.Save(cp)
}

// Delete removes the period's checkpoint
func (m *Manager) Delete(period string) error {
	if err := os.Remove(m.Path(period)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

// Done reports whether the vehicle already has a persisted valuation
func (cp *Checkpoint) Done(vehicleID string) bool {
	return cp.Outcomes[vehicleID] == OutcomePersisted
}

func getDataDirectory() (string, error) {
	var dataDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dataDir = filepath.Join(home, "Library", "Application Support", "pricescraper")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", fmt.Errorf("APPDATA environment variable not set")
		}
		dataDir = filepath.Join(appData, "pricescraper")
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			dataDir = filepath.Join(xdg, "pricescraper")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			dataDir = filepath.Join(home, ".local", "share", "pricescraper")
		}
	}

	return dataDir, nil
}
