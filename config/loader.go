/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	kb = 1024
	mb = 1024 * kb

	maxConfigSize int64 = 4 * mb // matches the ingest side's "even this is crazy large" cap
)

var (
	ErrConfigFileTooLarge = errors.New("config file is too large")
	ErrFailedFileRead     = errors.New("failed to read entire config file")
	ErrIsNotDirectory     = errors.New("overlay path is not a directory")
)

// readCapped reads p in full, refusing anything over maxConfigSize the
// same way ingest/config's file loader does before handing bytes to a
// parser.
func readCapped(p string) ([]byte, error) {
	fin, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer fin.Close()
	fi, err := fin.Stat()
	if err != nil {
		return nil, err
	}
	if fi.Size() > maxConfigSize {
		return nil, ErrConfigFileTooLarge
	}
	bb := bytes.NewBuffer(nil)
	n, err := io.Copy(bb, fin)
	if err != nil {
		return nil, err
	}
	if n != fi.Size() {
		return nil, ErrFailedFileRead
	}
	return bb.Bytes(), nil
}

// overlayFiles lists the .yaml/.yml files directly inside dir, sorted by
// name so overlay order is deterministic. A missing directory is not an
// error: an operator who never created one just gets no overlays.
func overlayFiles(dir string) ([]string, error) {
	if dir == `` {
		return nil, nil
	}
	fi, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if !fi.IsDir() {
		return nil, ErrIsNotDirectory
	}
	dents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, d := range dents {
		if !d.Type().IsRegular() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(d.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		out = append(out, filepath.Join(dir, d.Name()))
	}
	sort.Strings(out)
	return out, nil
}

// loadRawFile reads, env-interpolates and YAML-decodes one config file.
func loadRawFile(p string) (RawConfig, error) {
	var rc RawConfig
	raw, err := readCapped(p)
	if err != nil {
		return rc, fmt.Errorf("reading %s: %w", p, err)
	}
	expanded, err := interpolateEnv(raw)
	if err != nil {
		return rc, fmt.Errorf("%s: %w", p, err)
	}
	if err := decodeYAML(expanded, &rc); err != nil {
		return rc, fmt.Errorf("parsing %s: %w", p, err)
	}
	return rc, nil
}
