package archive

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const folderMime = "application/vnd.google-apps.folder"

// DriveStore uploads report files into a folder tree on Google Drive.
type DriveStore struct {
	srv  *drive.Service
	root string
}

// NewDriveStore connects to Drive. Folders are created below root.
func NewDriveStore(ctx context.Context, root, credentialsFile string) (*DriveStore, error) {
	opts := []option.ClientOption{option.WithScopes(drive.DriveScope)}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	srv, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	if root == "" {
		root = "root"
	}
	return &DriveStore{srv: srv, root: root}, nil
}

// Put creates any missing folders on the path and uploads the file into
// the last one. It returns the Drive file id.
func (s *DriveStore) Put(ctx context.Context, path, name string, body []byte, contentType string) (string, error) {
	parent, err := s.folder(ctx, path)
	if err != nil {
		return "", err
	}
	f, err := s.srv.Files.Create(&drive.File{Name: name, Parents: []string{parent}, MimeType: contentType}).
		Media(bytes.NewReader(body), googleapi.ContentType(contentType)).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", name, err)
	}
	return f.Id, nil
}

func (s *DriveStore) folder(ctx context.Context, path string) (string, error) {
	parent := s.root
	for _, seg := range strings.Split(path, "/") {
		if seg == "" {
			continue
		}
		list, err := s.srv.Files.List().
			Q(folderQuery(parent, seg)).
			Fields("files(id)").
			Context(ctx).
			Do()
		if err != nil {
			return "", fmt.Errorf("find folder %q: %w", seg, err)
		}
		switch len(list.Files) {
		case 0:
			f, err := s.srv.Files.Create(&drive.File{Name: seg, MimeType: folderMime, Parents: []string{parent}}).
				Fields("id").
				Context(ctx).
				Do()
			if err != nil {
				return "", fmt.Errorf("create folder %q: %w", seg, err)
			}
			parent = f.Id
		case 1:
			parent = list.Files[0].Id
		default:
			return "", fmt.Errorf("more than one folder named %q", seg)
		}
	}
	return parent, nil
}

func folderQuery(parent, name string) string {
	return fmt.Sprintf("'%s' in parents and mimeType = '%s' and name = '%s' and trashed = false",
		quote(parent), folderMime, quote(name))
}

func quote(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}
