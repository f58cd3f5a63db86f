package workspace

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// Loader evaluates Starlark workspace files.
type Loader struct {
	timeout time.Duration
	// lookupEnv is swappable for tests.
	lookupEnv func(string) (string, bool)
}

// NewLoader creates a workspace loader.
func NewLoader(timeout time.Duration) *Loader {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Loader{
		timeout:   timeout,
		lookupEnv: os.LookupEnv,
	}
}

// Load reads and evaluates the workspace file at path.
func (l *Loader) Load(ctx context.Context, path string) (*Workspace, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workspace file: %w", err)
	}
	return l.LoadSource(ctx, path, string(content))
}

// LoadSource evaluates workspace file content. The filename is used for
// error positions and recorded as the workspace source.
func (l *Loader) LoadSource(ctx context.Context, filename, content string) (*Workspace, error) {
	evalCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	resultCh := make(chan *Workspace, 1)
	errCh := make(chan error, 1)

	go func() {
		ws, err := l.evalSync(filename, content)
		if err != nil {
			errCh <- err
		} else {
			resultCh <- ws
		}
	}()

	select {
	case <-evalCtx.Done():
		return nil, fmt.Errorf("workspace evaluation timeout after %v", l.timeout)
	case err := <-errCh:
		return nil, err
	case ws := <-resultCh:
		l.applyEnvOverrides(ws)
		if err := ws.Validate(); err != nil {
			return nil, err
		}
		return ws, nil
	}
}

// evalSync performs the actual Starlark evaluation synchronously.
func (l *Loader) evalSync(filename, content string) (*Workspace, error) {
	ws := &Workspace{Source: filename}
	overrides := make(map[string]string)

	thread := &starlark.Thread{
		Name: "forge-workspace",
		Print: func(_ *starlark.Thread, msg string) {
			// print is suppressed; workspace files are declarative
		},
	}

	predeclared := starlark.StringDict{
		"struct":         starlarkstruct.Default,
		"archive":        starlark.NewBuiltin("archive", builtinArchive(ws)),
		"local_override": starlark.NewBuiltin("local_override", builtinLocalOverride(overrides)),
	}

	if _, err := starlark.ExecFile(thread, filename, content, predeclared); err != nil {
		return nil, fmt.Errorf("workspace evaluation failed: %w", err)
	}

	for name, path := range overrides {
		p := ws.Pin(name)
		if p == nil {
			return nil, fmt.Errorf("local_override for unknown pin %q", name)
		}
		p.Override = path
	}

	return ws, nil
}

// applyEnvOverrides redirects pins named through FORGE_OVERRIDE_* variables.
// Environment overrides win over local_override declarations.
func (l *Loader) applyEnvOverrides(ws *Workspace) {
	for _, p := range ws.Pins {
		if path, ok := l.lookupEnv(EnvOverrideName(p.Name)); ok && path != "" {
			p.Override = path
		}
	}
}

// builtinArchive implements the archive() workspace builtin.
func builtinArchive(ws *Workspace) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var (
			name, commit, sha256, stripPrefix string
			urls                              *starlark.List
		)
		if err := starlark.UnpackArgs(b.Name(), args, kwargs,
			"name", &name,
			"commit", &commit,
			"sha256", &sha256,
			"urls", &urls,
			"strip_prefix?", &stripPrefix,
		); err != nil {
			return nil, err
		}

		if ws.Pin(name) != nil {
			return nil, fmt.Errorf("archive: duplicate pin %q", name)
		}

		pin := &Pin{
			Name:        name,
			Commit:      commit,
			SHA256:      sha256,
			StripPrefix: stripPrefix,
		}

		if urls != nil {
			for i := 0; i < urls.Len(); i++ {
				s, ok := starlark.AsString(urls.Index(i))
				if !ok {
					return nil, fmt.Errorf("archive %q: urls[%d] is not a string", name, i)
				}
				pin.URLs = append(pin.URLs, s)
			}
		}

		ws.Pins = append(ws.Pins, pin)
		return starlark.None, nil
	}
}

// builtinLocalOverride implements the local_override() workspace builtin.
func builtinLocalOverride(overrides map[string]string) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var name, path string
		if err := starlark.UnpackArgs(b.Name(), args, kwargs,
			"name", &name,
			"path", &path,
		); err != nil {
			return nil, err
		}
		if path == "" {
			return nil, fmt.Errorf("local_override %q: path must not be empty", name)
		}
		overrides[name] = path
		return starlark.None, nil
	}
}
