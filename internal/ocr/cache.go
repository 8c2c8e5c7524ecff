package ocr

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const cacheSchema = `
CREATE TABLE IF NOT EXISTS recognitions (
	engine     TEXT    NOT NULL,
	image_hash TEXT    NOT NULL,
	threshold  REAL    NOT NULL,
	lines      TEXT    NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (engine, image_hash, threshold)
)`

// Cache stores recognition results keyed by engine identity and image
// content, so reruns over the same video skip images already recognized.
// One Cache is shared by all workers; database/sql serializes access.
type Cache struct {
	db *sql.DB
}

func OpenCache(ctx context.Context, path string) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open recognition cache: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if _, err := db.ExecContext(ctx, cacheSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize recognition cache: %w", err)
	}
	return &Cache{db: db}, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

// wraps engine so lookups hit the cache before the engine
func (c *Cache) Wrap(engine Engine, key string) Engine {
	return &cachedEngine{cache: c, engine: engine, key: key}
}

// WrapFactory wraps every engine the factory builds.
func (c *Cache) WrapFactory(factory EngineFactory, key string) EngineFactory {
	return func(ctx context.Context) (Engine, error) {
		engine, err := factory(ctx)
		if err != nil {
			return nil, err
		}
		return c.Wrap(engine, key), nil
	}
}

func (c *Cache) lookup(ctx context.Context, key, hash string, threshold float64) ([]Line, bool, error) {
	var raw string
	err := c.db.QueryRowContext(ctx,
		`SELECT lines FROM recognitions WHERE engine = ? AND image_hash = ? AND threshold = ?`,
		key, hash, threshold,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query recognition cache: %w", err)
	}

	var lines []Line
	if err := json.Unmarshal([]byte(raw), &lines); err != nil {
		return nil, false, fmt.Errorf("decode cached lines: %w", err)
	}
	return lines, true, nil
}

func (c *Cache) store(ctx context.Context, key, hash string, threshold float64, lines []Line) error {
	if lines == nil {
		lines = []Line{}
	}
	raw, err := json.Marshal(lines)
	if err != nil {
		return fmt.Errorf("encode lines: %w", err)
	}
	_, err = c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO recognitions (engine, image_hash, threshold, lines, created_at) VALUES (?, ?, ?, ?, ?)`,
		key, hash, threshold, string(raw), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("write recognition cache: %w", err)
	}
	return nil
}

type cachedEngine struct {
	cache  *Cache
	engine Engine
	key    string
}

func (e *cachedEngine) Recognize(ctx context.Context, img image.Image, threshold float64) ([]Line, error) {
	hash := imageHash(img)

	lines, ok, err := e.cache.lookup(ctx, e.key, hash, threshold)
	if err != nil {
		return nil, err
	}
	if ok {
		return lines, nil
	}

	lines, err = e.engine.Recognize(ctx, img, threshold)
	if err != nil {
		return nil, err
	}
	if err := e.cache.store(ctx, e.key, hash, threshold, lines); err != nil {
		return nil, err
	}
	return lines, nil
}

func (e *cachedEngine) Close() error {
	return e.engine.Close()
}

// SHA-256 over the image size and its RGBA pixels
func imageHash(img image.Image) string {
	b := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Stride != 4*b.Dx() {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	}

	h := sha256.New()
	var size [8]byte
	binary.LittleEndian.PutUint32(size[:4], uint32(b.Dx()))
	binary.LittleEndian.PutUint32(size[4:], uint32(b.Dy()))
	h.Write(size[:])
	h.Write(rgba.Pix[:4*b.Dx()*b.Dy()])
	return hex.EncodeToString(h.Sum(nil))
}
