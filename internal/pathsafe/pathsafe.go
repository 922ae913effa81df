// Package pathsafe validates filesystem paths and mount tokens used by the
// workspace manager and the containerized step executor before they reach
// any filesystem or docker invocation.
package pathsafe

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// ValidateAbsolute cleans path and verifies it is absolute, rejecting empty
// input. The workspace manager's root, the docker workdir, and every
// resolved volume or cache-volume mount target go through this check first
// as defense in depth against traversal.
func ValidateAbsolute(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path cannot be empty")
	}
	clean := filepath.Clean(path)
	if !filepath.IsAbs(clean) {
		return "", fmt.Errorf("path must be absolute, got: %s", path)
	}
	return clean, nil
}

// ValidateMountTarget validates a docker cache-volume or bind-mount target:
// it must be absolute, and the raw input must not contain ".." anywhere.
// The ".." check runs before cleaning, since Clean would otherwise silently
// resolve a ".." segment away, hiding an attempt to escape the mount root.
func ValidateMountTarget(path string) (string, error) {
	if strings.Contains(path, "..") {
		return "", fmt.Errorf("mount target must not contain '..': %s", path)
	}
	return ValidateAbsolute(path)
}

var identPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// ValidateIdentifier checks a docker env/volume/network name against the
// safe-identifier rule: letters, digits, underscore, dot, dash only.
func ValidateIdentifier(name string) error {
	if name == "" {
		return fmt.Errorf("identifier cannot be empty")
	}
	if !identPattern.MatchString(name) {
		return fmt.Errorf("identifier %q contains unsafe characters", name)
	}
	return nil
}

// ValidateImageName checks a docker image reference against the safe
// regex and the 256-character length ceiling.
func ValidateImageName(image string) error {
	if image == "" {
		return fmt.Errorf("image name cannot be empty")
	}
	if len(image) > 256 {
		return fmt.Errorf("image name exceeds 256 characters")
	}
	if !imageNamePattern.MatchString(image) {
		return fmt.Errorf("image name %q contains unsafe characters", image)
	}
	return nil
}

var imageNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_./:@-]*$`)

// ValidateExtraArg checks that an extra docker CLI argument is a flag
// (leading "-") and not an arbitrary positional argument that could smuggle
// in additional mounts or capabilities.
func ValidateExtraArg(arg string) error {
	if !strings.HasPrefix(arg, "-") {
		return fmt.Errorf("extra docker arg %q must be a flag", arg)
	}
	return nil
}
