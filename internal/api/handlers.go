package api

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"time"

	"depesha/internal/auth"
	"depesha/internal/filestore"
	"depesha/internal/models"
	"depesha/internal/presence"
	"depesha/internal/storage"

	"github.com/google/uuid"
	"github.com/h2non/filetype"
)

const maxUploadBytes = 20 << 20

type API struct {
	auth     *auth.AuthService
	registry *presence.Registry
	files    filestore.FileStore
	storage  *storage.BboltStorage
	baseURL  string
}

func New(auth *auth.AuthService, registry *presence.Registry, files filestore.FileStore, storage *storage.BboltStorage, baseURL string) *API {
	return &API{
		auth:     auth,
		registry: registry,
		files:    files,
		storage:  storage,
		baseURL:  baseURL,
	}
}

func (a *API) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest

	// Support both JSON and form bodies.
	if r.Header.Get("Content-Type") == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Failed to parse form", http.StatusBadRequest)
			return
		}
		req.Username = r.FormValue("username")
		req.Password = r.FormValue("password")
	}

	loginResp, _ := a.auth.Login(req)

	if !loginResp.Success {
		w.WriteHeader(http.StatusUnauthorized)
		if err := json.NewEncoder(w).Encode(loginResp); err != nil {
			log.Printf("failed to encode login response: %v", err)
		}
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    loginResp.Token,
		HttpOnly: true,
		Path:     "/",
		Expires:  time.Unix(loginResp.TokenExpiry, 0),
	})

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(loginResp); err != nil {
		log.Printf("failed to encode login response: %v", err)
	}
}

func (a *API) getToken(r *http.Request) string {
	token := r.Header.Get("token")
	if token == "" {
		if c, err := r.Cookie("token"); err == nil {
			token = c.Value
		}
	}
	return token
}

func (a *API) LogoffHandler(w http.ResponseWriter, r *http.Request) {
	token := a.getToken(r)
	if token != "" {
		_ = a.auth.Logoff(token)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    "",
		HttpOnly: true,
		Path:     "/",
		MaxAge:   -1,
	})

	w.WriteHeader(http.StatusOK)
}

// RequireAuth wraps a handler with a live-token check.
func (a *API) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := a.auth.GetUserID(a.getToken(r)); err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// UsersHandler returns the directory snapshot augmented with live presence.
func (a *API) UsersHandler(w http.ResponseWriter, r *http.Request) {
	users := a.auth.GetUsers()
	for i := range users {
		users[i].Presence = a.registry.StatusFor(users[i].ID)
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].UserName < users[j].UserName
	})

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(users); err != nil {
		log.Printf("failed to encode users response: %v", err)
	}
}

// PresenceHandler lists every identity seen this process lifetime with its
// live status.
func (a *API) PresenceHandler(w http.ResponseWriter, r *http.Request) {
	statuses := a.registry.AllKnownWithStatus()
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Identity < statuses[j].Identity
	})

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(statuses); err != nil {
		log.Printf("failed to encode presence response: %v", err)
	}
}

// UploadHandler accepts a multipart blob out-of-band from the relay and
// returns the descriptor the client then carries as message metadata.
func (a *API) UploadHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := a.auth.GetUserID(a.getToken(r))
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Invalid upload", http.StatusBadRequest)
		return
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Upload too large or unreadable", http.StatusBadRequest)
		return
	}

	mimeType := header.Header.Get("Content-Type")
	if kind, err := filetype.Match(data); err == nil && kind != filetype.Unknown {
		mimeType = kind.MIME.Value
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	if err := a.files.Save(bytes.NewReader(data), hash); err != nil {
		log.Printf("failed to save upload: %v", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	meta := storage.FileMetadata{
		ID:        uuid.NewString(),
		Hash:      hash,
		Name:      header.Filename,
		MimeType:  mimeType,
		Size:      int64(len(data)),
		CreatedAt: time.Now().Unix(),
		UserID:    userID,
	}
	if err := a.storage.UpsertFileMetadata(meta); err != nil {
		log.Printf("failed to save file metadata: %v", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	desc := models.Attachment{
		URL:       fmt.Sprintf("%s/api/files/%s", a.baseURL, meta.ID),
		Name:      meta.Name,
		MimeType:  meta.MimeType,
		SizeBytes: meta.Size,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(desc); err != nil {
		log.Printf("failed to encode upload response: %v", err)
	}
}

// GetFileHandler serves a previously uploaded blob by metadata id.
func (a *API) GetFileHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	meta, err := a.storage.GetFileMetadata(id)
	if err != nil {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	f, err := a.files.Get(meta.Hash)
	if err != nil {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	defer func() { _ = f.Close() }()

	w.Header().Set("Content-Type", meta.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", meta.Name))
	if _, err := io.Copy(w, f); err != nil {
		log.Printf("failed to stream file %s: %v", id, err)
	}
}
