// Package assets maps light-field coordinates to files on disk and decodes
// them.
//
// A test image named "I01R1" lives in Root/I01R1 with one file per view:
//
//	Root/I01R1/007_003.png      perspective view (u=7, v=3)
//	Root/I01R1/007_007_004.png  view (7, 7) refocused on depth plane 4
//
// Its undistorted reference shares the same layout under the reference
// namespace "I01R0", and the depth map of the scene is
// Root/depth_map/I01R0.png.
package assets

import (
	"fmt"
	"path/filepath"
	"strings"

	"lftracking/internal/models"
)

// ReferenceMarker replaces the rater/distortion suffix of an image name to
// name its reference.
const ReferenceMarker = "R0"

// Namespace resolves asset paths for one tested image.
type Namespace struct {
	// Root is the directory holding every image folder
	Root string

	// Name is the folder of the tested image
	Name string

	// Format is the file extension, without the dot
	Format string
}

// NewNamespace creates a namespace for the image called name.
func NewNamespace(root, name, format string) Namespace {
	return Namespace{Root: root, Name: name, Format: format}
}

// Reference returns the name of the reference image: everything before the
// first 'R' followed by ReferenceMarker.
func (n Namespace) Reference() string {
	stem, _, _ := strings.Cut(n.Name, "R")
	return stem + ReferenceMarker
}

// RelPath returns the path of the test image at c relative to Root, as it is
// written to the tracking log.
func (n Namespace) RelPath(c models.Coordinate) string {
	return n.relPath(n.Name, c)
}

// Path returns the file of the test image at c.
func (n Namespace) Path(c models.Coordinate) string {
	return filepath.Join(n.Root, n.RelPath(c))
}

// ReferencePath returns the file of the reference image at c.
func (n Namespace) ReferencePath(c models.Coordinate) string {
	return filepath.Join(n.Root, n.relPath(n.Reference(), c))
}

// DepthMapPath returns the greyscale depth map shared by the test and
// reference images.
func (n Namespace) DepthMapPath() string {
	return filepath.Join(n.Root, "depth_map", fmt.Sprintf("%s.%s", n.Reference(), n.Format))
}

func (n Namespace) relPath(name string, c models.Coordinate) string {
	return fmt.Sprintf("%s/%s.%s", name, c.Key(), n.Format)
}
