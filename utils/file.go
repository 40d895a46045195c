package utils

import (
	"context"
	"os"
	"path/filepath"
)

// LocalAudioStore keeps recordings on the local disk under uploads/ and
// serves them from the /uploads static route. Development fallback for when
// no R2 credentials are configured.
type LocalAudioStore struct {
	Dir     string
	BaseURL string
}

func NewLocalAudioStore(dir, baseURL string) (*LocalAudioStore, error) {
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return nil, err
	}
	return &LocalAudioStore{Dir: dir, BaseURL: baseURL}, nil
}

func (s *LocalAudioStore) UploadAudio(ctx context.Context, data []byte, learnerID, filename string) (string, error) {
	key := AudioObjectKey(learnerID, filename)
	destPath := filepath.Join(s.Dir, filepath.FromSlash(key))

	if err := os.MkdirAll(filepath.Dir(destPath), os.ModePerm); err != nil {
		return "", err
	}
	if err := os.WriteFile(destPath, data, 0o644); err != nil {
		return "", err
	}
	return s.BaseURL + "/" + key, nil
}
