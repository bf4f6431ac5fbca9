package google

import (
	"context"
	"fmt"
	"log/slog"

	admin "google.golang.org/api/admin/directory/v1"
	"google.golang.org/api/option"
)

// DirectoryClient resolves group membership through the Admin SDK Directory API.
type DirectoryClient struct {
	service *admin.Service
	logger  *slog.Logger
}

// NewDirectoryClient creates a new Directory API client.
func NewDirectoryClient(ctx context.Context, logger *slog.Logger, opts ...option.ClientOption) (*DirectoryClient, error) {
	service, err := admin.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create directory service: %w", err)
	}
	return &DirectoryClient{service: service, logger: logger}, nil
}

// Members returns the email addresses of the users directly in group.
// Nested groups and customer-wide entries are skipped.
func (d *DirectoryClient) Members(ctx context.Context, group string) ([]string, error) {
	var emails []string
	err := d.service.Members.List(group).Pages(ctx, func(page *admin.Members) error {
		for _, m := range page.Members {
			if m.Type != "USER" || m.Email == "" {
				continue
			}
			emails = append(emails, m.Email)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list members of %s: %w", group, err)
	}
	d.logger.Info("Resolved group members", "group", group, "count", len(emails))
	return emails, nil
}
