package docsource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	defaultDriveBaseURL = "https://www.googleapis.com/drive/v3"
	driveReadonlyScope  = "https://www.googleapis.com/auth/drive.readonly"
	googleDocMimeType   = "application/vnd.google-apps.document"
	docxMimeType        = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	maxExportSize       = 64 << 20
)

// StaticTokenSource wraps a fixed access token, for deployments that mint tokens
// outside the service.
func StaticTokenSource(accessToken string) oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
}

// NewServiceAccountTokenSourceFromFile loads a Google service account JSON key.
func NewServiceAccountTokenSourceFromFile(ctx context.Context, path string, httpClient *http.Client) (oauth2.TokenSource, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("docsource: read service account key: %w", err)
	}
	return NewServiceAccountTokenSource(ctx, raw, httpClient)
}

// NewServiceAccountTokenSource exchanges signed assertions for read-only Drive
// tokens. Tokens are cached until shortly before they expire.
func NewServiceAccountTokenSource(ctx context.Context, keyJSON []byte, httpClient *http.Client) (oauth2.TokenSource, error) {
	jwtConfig, err := google.JWTConfigFromJSON(keyJSON, driveReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("docsource: parse service account key: %w", err)
	}
	if httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
	}
	return jwtConfig.TokenSource(ctx), nil
}

// DriveConfig describes the Drive folder to read.
type DriveConfig struct {
	FolderID   string
	Tokens     oauth2.TokenSource
	BaseURL    string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// DriveSource lists the Google Docs in one folder and exports them as DOCX.
type DriveSource struct {
	folderID   string
	tokens     oauth2.TokenSource
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewDriveSource validates cfg.
func NewDriveSource(cfg DriveConfig) (*DriveSource, error) {
	if strings.TrimSpace(cfg.FolderID) == "" {
		return nil, errors.New("docsource: drive folder id is required")
	}
	if cfg.Tokens == nil {
		return nil, errors.New("docsource: drive token source is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultDriveBaseURL
	}
	return &DriveSource{
		folderID:   cfg.FolderID,
		tokens:     cfg.Tokens,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

type driveFileList struct {
	Files []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"files"`
	NextPageToken string `json:"nextPageToken"`
}

// ListDocuments pages through the folder's non-trashed Google Docs.
func (s *DriveSource) ListDocuments(ctx context.Context) ([]Document, error) {
	query := fmt.Sprintf("'%s' in parents and trashed = false and mimeType = '%s'",
		strings.ReplaceAll(s.folderID, "'", `\'`), googleDocMimeType)

	var documents []Document
	pageToken := ""
	for {
		params := url.Values{}
		params.Set("q", query)
		params.Set("fields", "nextPageToken, files(id, name)")
		params.Set("pageSize", "100")
		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}
		body, err := s.get(ctx, s.baseURL+"/files?"+params.Encode(), 8<<20)
		if err != nil {
			return nil, err
		}
		var page driveFileList
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("docsource: decode drive file list: %w", err)
		}
		for _, file := range page.Files {
			documents = append(documents, Document{ID: file.ID, Name: file.Name})
		}
		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}
	s.logger.Info("drive documents listed", zap.String("folder", s.folderID), zap.Int("count", len(documents)))
	return documents, nil
}

// Download exports one Google Doc as DOCX.
func (s *DriveSource) Download(ctx context.Context, id string) ([]byte, error) {
	params := url.Values{}
	params.Set("mimeType", docxMimeType)
	endpoint := fmt.Sprintf("%s/files/%s/export?%s", s.baseURL, url.PathEscape(id), params.Encode())
	return s.get(ctx, endpoint, maxExportSize)
}

func (s *DriveSource) get(ctx context.Context, endpoint string, limit int64) ([]byte, error) {
	token, err := s.tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("docsource: drive token: %w", err)
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("docsource: build drive request: %w", err)
	}
	token.SetAuthHeader(request)

	response, err := s.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("docsource: drive request: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode == http.StatusNotFound {
		return nil, ErrDocumentNotFound
	}
	if response.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(response.Body, 2048))
		return nil, fmt.Errorf("docsource: drive returned %d: %s", response.StatusCode, strings.TrimSpace(string(snippet)))
	}
	body, err := io.ReadAll(io.LimitReader(response.Body, limit))
	if err != nil {
		return nil, fmt.Errorf("docsource: read drive response: %w", err)
	}
	return body, nil
}
