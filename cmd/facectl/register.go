package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/cuongbtq/face-recognition/internal/domain"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var photoExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
}

// registration is one photo to register, named after its file
type registration struct {
	identifier string
	path       string
}

func newRegisterCmd(a *app) *cobra.Command {
	var (
		dir         string
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register every photo in a directory as an identity",
		Long: `Registers each photo in --dir under its file name without extension.
An identifier that is already registered is replaced.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.registerDir(cmd.Context(), dir, concurrency)
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "Directory of identity photos")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "Photos registered in parallel")
	_ = cmd.MarkFlagRequired("dir")

	return cmd
}

// collectPhotos lists the photos directly inside dir, sorted by file name
func collectPhotos(dir string) ([]registration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	var photos []registration
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !photoExtensions[ext] {
			continue
		}
		photos = append(photos, registration{
			identifier: strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())),
			path:       filepath.Join(dir, e.Name()),
		})
	}

	sort.Slice(photos, func(i, j int) bool { return photos[i].identifier < photos[j].identifier })
	return photos, nil
}

func (a *app) registerDir(ctx context.Context, dir string, concurrency int) error {
	photos, err := collectPhotos(dir)
	if err != nil {
		return err
	}

	if len(photos) == 0 {
		fmt.Println("No photos found")
		return nil
	}

	if concurrency <= 0 {
		concurrency = 1
	}

	bar := progressbar.NewOptions(len(photos),
		progressbar.OptionSetDescription("Registering identities"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("photos"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionFullWidth(),
	)

	var (
		mu         sync.Mutex
		wg         sync.WaitGroup
		registered int
		failures   []string
		noFace     []string
	)

	sem := make(chan struct{}, concurrency)

	for _, p := range photos {
		wg.Add(1)
		go func(p registration) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			defer func() { _ = bar.Add(1) }()

			if ctx.Err() != nil {
				return
			}

			data, err := os.ReadFile(p.path)
			if err == nil {
				_, err = a.service.RegisterIdentity(ctx, p.identifier, data)
			}

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				registered++
				return
			}
			if errors.Is(err, domain.ErrNoFaceDetected) {
				noFace = append(noFace, p.identifier)
				return
			}
			failures = append(failures, fmt.Sprintf("%s: %v", p.identifier, err))
		}(p)
	}

	wg.Wait()
	_ = bar.Finish()
	fmt.Fprintln(os.Stderr)

	fmt.Printf("Registered: %d, no face: %d, failed: %d\n", registered, len(noFace), len(failures))

	for _, id := range noFace {
		fmt.Printf("  no face detected: %s\n", id)
	}
	for _, f := range failures {
		fmt.Printf("  failed: %s\n", f)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if len(failures) > 0 {
		return fmt.Errorf("%d photos failed to register", len(failures))
	}
	return nil
}
