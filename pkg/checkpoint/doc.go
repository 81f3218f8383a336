// Package checkpoint lets a monthly valuation run resume after a crash or
// restart without re-fetching vehicles it already persisted.
//
// One JSON file is kept per calendar month ("2026-03"), written atomically.
// Without an explicit directory, files live in the platform data directory:
//   - Linux: $XDG_DATA_HOME/pricescraper/checkpoints or ~/.local/share/pricescraper/checkpoints
//   - macOS: ~/Library/Application Support/pricescraper/checkpoints
//   - Windows: %APPDATA%/pricescraper/checkpoints
package checkpoint
