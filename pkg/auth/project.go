package auth

import (
	"context"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultMetadataURL = "http://metadata.google.internal/computeMetadata/v1/project/project-id"

	metadataTimeout = 2 * time.Second
)

var projectEnvVars = []string{"GOOGLE_CLOUD_PROJECT", "GCP_PROJECT", "GCLOUD_PROJECT"}

// ResolveProject determines the project owning this deployment, once, at
// process start: the instance metadata server first, then the well-known
// environment variables, then the explicitly configured project ID. Failing
// all three is a configuration error, distinct from any client-auth outcome.
func ResolveProject(ctx context.Context, cfg *Config, logger *zerolog.Logger) (string, error) {
	metadataURL := cfg.MetadataURL
	if metadataURL == "" {
		metadataURL = DefaultMetadataURL
	}

	if project := projectFromMetadata(ctx, metadataURL); project != "" {
		logger.Info().Str("project", project).Msg("project resolved from metadata server")
		return project, nil
	}

	for _, name := range projectEnvVars {
		if project := os.Getenv(name); project != "" {
			logger.Info().Str("project", project).Str("source", name).Msg("project resolved from environment")
			return project, nil
		}
	}

	if cfg.ProjectID != "" {
		logger.Info().Str("project", cfg.ProjectID).Msg("project taken from configuration")
		return cfg.ProjectID, nil
	}

	return "", &Error{
		Kind:    KindConfiguration,
		Message: "unable to determine project: no metadata server, environment variable or configured project ID",
	}
}

func projectFromMetadata(ctx context.Context, metadataURL string) string {
	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, metadataURL, http.NoBody)
	if err != nil {
		return ""
	}

	req.Header.Set("Metadata-Flavor", "Google")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ""
	}

	project, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return ""
	}

	return strings.TrimSpace(string(project))
}
