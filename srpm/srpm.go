// Package srpm implements ArchiveReader: querying an RPM source package for
// its build-time requirements and unpacking it to recover the embedded spec
// file.
//
// The scoped-temp-dir-then-defer-remove acquisition pattern and the
// shell-out-via-exec.CommandContext style are carried from distri's
// internal/build package, which repeatedly unpacks build inputs into a
// scratch directory and guarantees cleanup on every exit path.
package srpm

import (
	"bytes"
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.rpmhub.dev/build"
	"go.rpmhub.dev/build/specfile"
)

// rpmLeadMagic is the 4-byte magic number at the start of every RPM
// package file (lead + signature header), source and binary alike.
var rpmLeadMagic = []byte{0xed, 0xab, 0xee, 0xdb}

// validateMagic reads the first 4 bytes of path and returns
// *rpmhub.InvalidArchiveError if they do not match the RPM lead magic.
func validateMagic(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return &rpmhub.InvalidArchiveError{Path: path, Reason: err.Error()}
	}
	defer f.Close()
	buf := make([]byte, 4)
	if _, err := f.Read(buf); err != nil {
		return &rpmhub.InvalidArchiveError{Path: path, Reason: "could not read header: " + err.Error()}
	}
	if !bytes.Equal(buf, rpmLeadMagic) {
		return &rpmhub.InvalidArchiveError{Path: path, Reason: "not an RPM package (bad magic)"}
	}
	return nil
}

// Requires returns the build-time requirement tokens recorded in the
// archive's header, by invoking the host's RPM query tool.
func Requires(ctx context.Context, archivePath string) ([]string, error) {
	if err := validateMagic(archivePath); err != nil {
		return nil, err
	}
	cmd := exec.CommandContext(ctx, "rpm", "-qp", "--requires", archivePath)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, &rpmhub.InvalidArchiveError{
			Path:   archivePath,
			Reason: fmt.Sprintf("rpm -qp --requires: %v: %s", err, stderr.String()),
		}
	}
	var reqs []string
	for _, line := range strings.Split(stdout.String(), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "rpmlib(") {
			continue // rpmlib() feature markers are not real dependencies
		}
		reqs = append(reqs, line)
	}
	return reqs, nil
}

// Info unpacks archivePath into a scratch directory, locates the single
// embedded .spec file, and delegates to specfile.Analyze.
func Info(ctx context.Context, archivePath string) (*rpmhub.PackageInfo, error) {
	if err := validateMagic(archivePath); err != nil {
		return nil, err
	}

	scratch, err := ioutil.TempDir("", "rpmhub-srpm-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(scratch)

	cmd := exec.CommandContext(ctx, "rpm2cpio", archivePath)
	cpio, err := os.Create(filepath.Join(scratch, "archive.cpio"))
	if err != nil {
		return nil, err
	}
	cmd.Stdout = cpio
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	runErr := cmd.Run()
	closeErr := cpio.Close()
	if runErr != nil {
		return nil, &rpmhub.InvalidArchiveError{Path: archivePath, Reason: fmt.Sprintf("rpm2cpio: %v: %s", runErr, stderr.String())}
	}
	if closeErr != nil {
		return nil, closeErr
	}

	extract := exec.CommandContext(ctx, "cpio", "-idm", "--no-absolute-filenames")
	extract.Dir = scratch
	f, err := os.Open(filepath.Join(scratch, "archive.cpio"))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	extract.Stdin = f
	var extractStderr bytes.Buffer
	extract.Stderr = &extractStderr
	if err := extract.Run(); err != nil {
		return nil, &rpmhub.InvalidArchiveError{Path: archivePath, Reason: fmt.Sprintf("cpio -idm: %v: %s", err, extractStderr.String())}
	}

	specPath, err := findSingleSpec(scratch)
	if err != nil {
		return nil, err
	}
	data, err := ioutil.ReadFile(specPath)
	if err != nil {
		return nil, err
	}
	info, _, err := specfile.Analyze(data, nil)
	return info, err
}

func findSingleSpec(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.spec"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", &rpmhub.InvalidArchiveError{Path: dir, Reason: "no .spec file found in archive"}
	}
	if len(matches) > 1 {
		return "", &rpmhub.InvalidArchiveError{Path: dir, Reason: fmt.Sprintf("multiple .spec files found: %v", matches)}
	}
	return matches[0], nil
}
