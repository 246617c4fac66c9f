package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/vcscsvcscs/medication-engine/internal/config"
	"go.uber.org/zap"
)

// BlobStore persists each key as a block blob in an Azure Blob Storage container.
// It suits backing up engine state off-device rather than hot-path writes.
type BlobStore struct {
	container *container.Client
	prefix    string
	logger    *zap.Logger
}

// NewBlobStore authenticates with the account's shared key and binds the configured container
func NewBlobStore(cfg config.BlobConfig, prefix string, logger *zap.Logger) (*BlobStore, error) {
	if cfg.AccountName == "" || cfg.AccountKey == "" || cfg.Container == "" {
		return nil, fmt.Errorf("blob account name, account key and container are required")
	}

	credential, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("invalid blob storage credentials: %w", err)
	}

	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", cfg.AccountName)
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, credential, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}

	return &BlobStore{
		container: client.ServiceClient().NewContainerClient(cfg.Container),
		prefix:    prefix,
		logger:    logger,
	}, nil
}

func (s *BlobStore) blobClient(key string) *blockblob.Client {
	return s.container.NewBlockBlobClient("state/" + s.prefix + key)
}

// Get downloads the blob stored under key
func (s *BlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	downloadResponse, err := s.blobClient(key).DownloadStream(ctx, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, ErrKeyNotFound
		}
		s.logger.Error("failed to download state blob",
			zap.String("key", key),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to download %s: %w", key, err)
	}
	defer downloadResponse.Body.Close()

	data, err := io.ReadAll(downloadResponse.Body)
	if err != nil {
		s.logger.Error("failed to read state blob",
			zap.String("key", key),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}

	return data, nil
}

// Set uploads value as the blob for key, replacing any previous content
func (s *BlobStore) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.blobClient(key).UploadBuffer(ctx, value, &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: to.Ptr("application/octet-stream")},
	})
	if err != nil {
		s.logger.Error("failed to upload state blob",
			zap.String("key", key),
			zap.Error(err),
		)
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}

	return nil
}

// Delete removes the blob for key; a missing blob is not an error
func (s *BlobStore) Delete(ctx context.Context, key string) error {
	if _, err := s.blobClient(key).Delete(ctx, nil); err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil
		}
		s.logger.Error("failed to delete state blob",
			zap.String("key", key),
			zap.Error(err),
		)
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}

	return nil
}
