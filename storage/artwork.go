package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"MirrorFM/logger"

	"github.com/minio/minio-go/v7"
)

// ArtworkMirror 封面镜像
// 快照里的封面 URL 指向上游 CDN，这里按 trackID 落一份到对象存储，
// 由 /artwork/{track_id} 端点对外提供，镜像失败绝不影响同步链路
type ArtworkMirror struct {
	httpClient *http.Client
}

// NewArtworkMirror 创建封面镜像
func NewArtworkMirror() *ArtworkMirror {
	return &ArtworkMirror{
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func artworkObjectName(trackID string) string {
	return fmt.Sprintf("artwork/%s.jpg", trackID)
}

// Mirror 把一张封面镜像到对象存储，已存在则跳过
func (m *ArtworkMirror) Mirror(ctx context.Context, trackID, artworkURL string) error {
	if minioClient == nil {
		return fmt.Errorf("MinIO client not initialized")
	}
	if trackID == "" || artworkURL == "" {
		return nil
	}

	objectName := artworkObjectName(trackID)

	// 已经镜像过就不再拉
	if _, err := minioClient.StatObject(ctx, bucketName, objectName, minio.StatObjectOptions{}); err == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, artworkURL, nil)
	if err != nil {
		return fmt.Errorf("build artwork request: %w", err)
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch artwork: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch artwork: status %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/jpeg"
	}

	_, err = minioClient.PutObject(ctx, bucketName, objectName, resp.Body, resp.ContentLength,
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("store artwork: %w", err)
	}

	logger.Info("artwork mirrored",
		logger.String("track", trackID),
		logger.String("object", objectName))
	return nil
}

// MirrorAsync 后台镜像，只记日志不返回错误
func (m *ArtworkMirror) MirrorAsync(trackID, artworkURL string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := m.Mirror(ctx, trackID, artworkURL); err != nil {
			logger.Warn("artwork mirror failed",
				logger.ErrorField(err),
				logger.String("track", trackID))
		}
	}()
}

// Open 打开镜像过的封面对象
func (m *ArtworkMirror) Open(ctx context.Context, trackID string) (io.ReadCloser, string, error) {
	if minioClient == nil {
		return nil, "", fmt.Errorf("MinIO client not initialized")
	}

	objectName := artworkObjectName(trackID)
	obj, err := minioClient.GetObject(ctx, bucketName, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, "", err
	}

	stat, err := obj.Stat()
	if err != nil {
		obj.Close()
		return nil, "", err
	}

	contentType := stat.ContentType
	if contentType == "" {
		contentType = "image/jpeg"
	}
	return obj, contentType, nil
}
