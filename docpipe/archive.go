package docpipe

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"golang.org/x/sync/errgroup"
)

// extractArchive extracts every member the filter keeps, concurrently.
// A failing member is logged and left out; the others are still rendered.
// Output follows the archive's own member order.
func (p *Pipeline) extractArchive(ctx context.Context, data []byte, filter ArchiveFilter) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	var members []*zip.File
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || filter.Excludes(f.Name) {
			continue
		}
		members = append(members, f)
	}

	texts := make([]string, len(members))
	done := make([]bool, len(members))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.ArchiveWorkers)
	for i, m := range members {
		g.Go(func() error {
			text, err := p.extractMember(gctx, m, filter)
			if err != nil {
				p.logger.Warn("archive member skipped", "member", m.Name, "error", err)
				return nil
			}
			texts[i] = text
			done[i] = true
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var sb strings.Builder
	for i, m := range members {
		if !done[i] {
			continue
		}
		sb.WriteString("\nFile: ")
		sb.WriteString(m.Name)
		sb.WriteString("/\n")
		sb.WriteString(texts[i])
		sb.WriteString("\n\n")
	}
	return sb.String(), nil
}

func (p *Pipeline) extractMember(ctx context.Context, m *zip.File, filter ArchiveFilter) (string, error) {
	if m.UncompressedSize64 > uint64(p.cfg.MaxFileSize) {
		return "", fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, m.UncompressedSize64, p.cfg.MaxFileSize)
	}
	rc, err := m.Open()
	if err != nil {
		return "", fmt.Errorf("%w: open member: %w", ErrMalformed, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, p.cfg.MaxFileSize+1))
	if err != nil {
		return "", fmt.Errorf("%w: read member: %w", ErrDecode, err)
	}
	if int64(len(data)) > p.cfg.MaxFileSize {
		return "", fmt.Errorf("%w: member exceeds %d bytes", ErrTooLarge, p.cfg.MaxFileSize)
	}

	doc := Document{Name: m.Name, Data: data, Format: memberFormat(m.Name)}
	return p.extract(ctx, doc, doc.Format, filter)
}
