package main

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/shapestone/shape-httpd/pkg/config"
	"github.com/shapestone/shape-httpd/pkg/httpd"
	"github.com/shapestone/shape-httpd/pkg/mime"
	"github.com/shapestone/shape-httpd/pkg/resource"
)

// mountContent registers the built-in status resource, the static files,
// the content store mount, and the root redirect.
func mountContent(srv *httpd.Server, cfg *config.Config, store resource.Store, log *zap.Logger) error {
	if err := srv.Register(statusResource(srv, store, time.Now())); err != nil {
		return err
	}
	if cfg.Content.StaticDir != "" {
		n, size, err := preloadStatic(srv, cfg.Content.StaticDir)
		if err != nil {
			return err
		}
		log.Info("static_content_loaded",
			zap.String("dir", cfg.Content.StaticDir),
			zap.Int("files", n),
			zap.String("size", humanize.IBytes(uint64(size))))
	}
	if err := srv.Register(httpd.Resource{
		Path:    cfg.Content.Mount,
		Kind:    httpd.KindResource,
		Handler: httpd.StoreHandler(store, ""),
		Methods: []httpd.Method{httpd.MethodGet, httpd.MethodPut},
	}); err != nil {
		return fmt.Errorf("mount %s: %w", cfg.Content.Mount, err)
	}
	if cfg.Content.RootRedirect != "" {
		if err := srv.Register(httpd.RedirectResource("/", cfg.Content.RootRedirect)); err != nil {
			return err
		}
	}
	return nil
}

// preloadStatic registers every regular file under dir as a Static
// resource at its slash-separated relative path.
func preloadStatic(srv *httpd.Server, dir string) (files int, size int64, err error) {
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.Type().IsRegular() {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		if err := srv.Register(httpd.Resource{
			Path: path.Join("/", filepath.ToSlash(rel)),
			Kind: httpd.KindStatic,
			Data: data,
		}); err != nil {
			return fmt.Errorf("static %s: %w", rel, err)
		}
		files++
		size += int64(len(data))
		return nil
	})
	return files, size, err
}

type statusReport struct {
	Version   string   `json:"version"`
	Started   string   `json:"started"`
	Uptime    string   `json:"uptime"`
	Resources []string `json:"resources"`
	Stored    int      `json:"stored"`
}

func statusResource(srv *httpd.Server, store resource.Store, started time.Time) httpd.Resource {
	return httpd.Resource{
		Path:     "/status.json",
		Kind:     httpd.KindDynamic,
		MimeType: mime.JSON,
		Methods:  []httpd.Method{httpd.MethodGet},
		Handler: httpd.HandlerFunc(func(req *httpd.Request, resp *httpd.ResponseStream) error {
			keys, err := store.Keys()
			if err != nil {
				return err
			}
			rep := statusReport{
				Version: version,
				Started: humanize.Time(started),
				Uptime:  time.Since(started).Round(time.Second).String(),
				Stored:  len(keys),
			}
			for _, r := range srv.Resources() {
				rep.Resources = append(rep.Resources, r.Path)
			}
			return json.NewEncoder(resp).Encode(rep)
		}),
	}
}
