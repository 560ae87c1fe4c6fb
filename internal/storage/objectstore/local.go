package objectstore

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/pdfstore/internal/domain"
)

// ErrBadSignature: ссылка подделана или истекла.
var ErrBadSignature = errors.New("invalid or expired file signature")

// LocalStore раздаёт файлы из каталога по ссылкам с HMAC-подписью.
// Используется в локальном окружении вместо S3.
type LocalStore struct {
	dir     string
	baseURL string
	secret  []byte
	now     func() time.Time
}

// NewLocalStore создаёт LocalStore. baseURL задаёт публичный префикс ссылок, например http://localhost:8080/files.
func NewLocalStore(dir, baseURL, secret string) (*LocalStore, error) {
	if secret == "" {
		return nil, errors.New("local file store requires a signing secret")
	}
	return &LocalStore{
		dir:     dir,
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  []byte(secret),
		now:     time.Now,
	}, nil
}

// SignedURL возвращает ссылку вида {base}/{key}?expires=...&signature=...
func (s *LocalStore) SignedURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	key = strings.TrimLeft(path.Clean("/"+key), "/")
	if key == "" || key == "." {
		return "", errors.New("object key is required")
	}
	expires := s.now().Add(ttl).Unix()
	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("signature", s.sign(key, expires))
	return s.baseURL + "/" + key + "?" + q.Encode(), nil
}

// Verify проверяет подпись и срок ссылки.
func (s *LocalStore) Verify(key, expires, signature string) error {
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return ErrBadSignature
	}
	if s.now().Unix() > exp {
		return ErrBadSignature
	}
	if !hmac.Equal([]byte(s.sign(key, exp)), []byte(signature)) {
		return ErrBadSignature
	}
	return nil
}

// ServeFile отдаёт файл key, если подпись верна.
func (s *LocalStore) ServeFile(w http.ResponseWriter, r *http.Request, key string) {
	key = strings.TrimLeft(path.Clean("/"+key), "/")
	q := r.URL.Query()
	if err := s.Verify(key, q.Get("expires"), q.Get("signature")); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}
	full := filepath.Join(s.dir, filepath.FromSlash(key))
	if _, err := os.Stat(full); err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Disposition", "attachment; filename=\""+path.Base(key)+"\"")
	http.ServeFile(w, r, full)
}

func (s *LocalStore) sign(key string, expires int64) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(key))
	mac.Write([]byte{'\n'})
	mac.Write([]byte(strconv.FormatInt(expires, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

var _ domain.ObjectSigner = (*LocalStore)(nil)
