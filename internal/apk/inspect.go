// Package apk reads identifying fields out of an Android package.
package apk

import (
	"bytes"
	"fmt"

	"github.com/shogo82148/androidbinary/apk"
)

// Manifest holds the fields recorded on a revision
type Manifest struct {
	PackageName string
	VersionName string
	VersionCode int64
}

// Inspector parses package manifests with androidbinary
type Inspector struct{}

// NewInspector creates an Inspector
func NewInspector() *Inspector {
	return &Inspector{}
}

// Inspect parses the binary AndroidManifest.xml inside data
func (i *Inspector) Inspect(data []byte) (m *Manifest, err error) {
	// malformed archives can panic deep inside the resource decoder
	defer func() {
		if r := recover(); r != nil {
			m, err = nil, fmt.Errorf("failed to parse package: %v", r)
		}
	}()

	pkg, err := apk.OpenZipReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open package: %w", err)
	}
	defer pkg.Close()

	manifest := pkg.Manifest()
	name, err := manifest.Package.String()
	if err != nil || name == "" {
		return nil, fmt.Errorf("package name missing from manifest")
	}

	out := &Manifest{PackageName: name}
	if v, err := manifest.VersionName.String(); err == nil {
		out.VersionName = v
	}
	if code, err := manifest.VersionCode.Int32(); err == nil {
		out.VersionCode = int64(code)
	}
	return out, nil
}
