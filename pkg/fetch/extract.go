package fetch

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Extract unpacks an archive into dst, removing stripPrefix from every
// member path. Supported formats: .tar.gz/.tgz, .tar, .zip.
func Extract(archivePath, dst, stripPrefix string) error {
	switch {
	case strings.HasSuffix(archivePath, ".tar.gz"), strings.HasSuffix(archivePath, ".tgz"):
		return extractTar(archivePath, dst, stripPrefix, true)
	case strings.HasSuffix(archivePath, ".tar"):
		return extractTar(archivePath, dst, stripPrefix, false)
	case strings.HasSuffix(archivePath, ".zip"):
		return extractZip(archivePath, dst, stripPrefix)
	default:
		return NewPermanentError(fmt.Sprintf("unsupported archive format: %s", filepath.Base(archivePath)), nil)
	}
}

func extractTar(archivePath, dst, stripPrefix string, gzipped bool) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return NewPermanentError("failed to open archive", err)
	}
	defer f.Close()

	var r io.Reader = f
	if gzipped {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return NewPermanentError("failed to read gzip stream", err)
		}
		defer gz.Close()
		r = gz
	}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return NewPermanentError("failed to read tar entry", err)
		}

		name, ok := memberPath(hdr.Name, stripPrefix)
		if !ok {
			continue
		}
		target, err := securePath(dst, name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return NewPermanentError("failed to create directory", err)
			}
		case tar.TypeReg:
			if err := writeMember(target, tr, os.FileMode(hdr.Mode)&0o777); err != nil {
				return err
			}
		case tar.TypeSymlink:
			// Refuse links that point outside the extracted tree.
			if filepath.IsAbs(hdr.Linkname) || strings.HasPrefix(filepath.Clean(hdr.Linkname), "..") {
				return NewPermanentError(
					fmt.Sprintf("archive member %s links outside the archive", hdr.Name), nil)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return NewPermanentError("failed to create directory", err)
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return NewPermanentError("failed to create symlink", err)
			}
		default:
			// Devices, FIFOs, and hard links are skipped. Pinned source
			// archives do not carry them.
		}
	}
}

func extractZip(archivePath, dst, stripPrefix string) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return NewPermanentError("failed to open zip archive", err)
	}
	defer zr.Close()

	for _, member := range zr.File {
		name, ok := memberPath(member.Name, stripPrefix)
		if !ok {
			continue
		}
		target, err := securePath(dst, name)
		if err != nil {
			return err
		}

		if member.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return NewPermanentError("failed to create directory", err)
			}
			continue
		}

		rc, err := member.Open()
		if err != nil {
			return NewPermanentError("failed to open zip member", err)
		}
		err = writeMember(target, rc, member.Mode()&0o777)
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// memberPath strips the prefix and rejects empty results. The second return
// is false for members that should be skipped.
func memberPath(name, stripPrefix string) (string, bool) {
	name = filepath.ToSlash(name)
	if stripPrefix != "" {
		if name == stripPrefix || name == stripPrefix+"/" {
			return "", false
		}
		if !strings.HasPrefix(name, stripPrefix+"/") {
			return "", false
		}
		name = strings.TrimPrefix(name, stripPrefix+"/")
	}
	if name == "" || name == "/" {
		return "", false
	}
	return name, true
}

// securePath joins a member name onto dst, rejecting traversal outside it.
func securePath(dst, name string) (string, error) {
	target := filepath.Join(dst, filepath.FromSlash(name))
	if !strings.HasPrefix(target, filepath.Clean(dst)+string(os.PathSeparator)) {
		return "", NewPermanentError(fmt.Sprintf("archive member %s escapes the extraction root", name), nil)
	}
	return target, nil
}

func writeMember(target string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return NewPermanentError("failed to create directory", err)
	}
	if mode == 0 {
		mode = 0o644
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return NewPermanentError("failed to create file", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return NewPermanentError("failed to write file", err)
	}
	return f.Close()
}
