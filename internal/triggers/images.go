package triggers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"guildkeeper/internal/utils"

	"github.com/spaolacci/murmur3"
)

const maxImageBytes = 8 << 20

var ErrImageTooLarge = errors.New("image exceeds 8MB")

// Images keeps trigger attachments under <dir>/<guild>/ with content
// addressed file names so identical uploads share one file.
type Images struct {
	dir  string
	http *http.Client
}

func NewImages(dir string, httpClient *http.Client) *Images {
	return &Images{dir: dir, http: httpClient}
}

func (i *Images) Path(guildID, file string) string {
	return filepath.Join(i.dir, guildID, filepath.Base(file))
}

func (i *Images) Exists(guildID, file string) bool {
	info, err := os.Stat(i.Path(guildID, file))
	return err == nil && !info.IsDir()
}

func (i *Images) Read(guildID, file string) ([]byte, error) {
	return os.ReadFile(i.Path(guildID, file))
}

// Download fetches rawURL and stores it, returning the stored file name.
func (i *Images) Download(ctx context.Context, guildID, rawURL string) (string, error) {
	normalized, err := utils.NormalizeURL(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid image url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, normalized, nil)
	if err != nil {
		return "", err
	}
	resp, err := i.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download image: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return "", err
	}
	if len(body) > maxImageBytes {
		return "", ErrImageTooLarge
	}
	return i.Save(guildID, utils.URLFileName(normalized, "image"), body)
}

// Save writes data under a name derived from its content hash.
func (i *Images) Save(guildID, name string, data []byte) (string, error) {
	h1, h2 := murmur3.Sum128(data)
	file := fmt.Sprintf("%016x%016x-%s", h1, h2, sanitize(name))
	dir := filepath.Join(i.dir, guildID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	target := filepath.Join(dir, file)
	if _, err := os.Stat(target); err == nil {
		return file, nil
	}
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", err
	}
	return file, os.Rename(tmp, target)
}

// Remove deletes files no longer referenced by stillUsed.
func (i *Images) Remove(guildID string, files []string, stillUsed map[string]struct{}) {
	for _, file := range files {
		if _, ok := stillUsed[file]; ok {
			continue
		}
		_ = os.Remove(i.Path(guildID, file))
	}
}

func sanitize(name string) string {
	name = filepath.Base(name)
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "image"
	}
	out := b.String()
	if len(out) > 64 {
		out = out[len(out)-64:]
	}
	return out
}
