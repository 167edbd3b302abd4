// imcore - iMessage chat-item ingestion for bridge clients.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package imcore

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/image/tiff"
)

// normalizeOutboundImage re-encodes TIFF images as JPEG before sending.
// Recipients on other platforms cannot render TIFF; everything else passes
// through untouched.
func normalizeOutboundImage(filename string, data []byte) (string, []byte, error) {
	mime := mimetype.Detect(data)
	if !mime.Is("image/tiff") {
		return filename, data, nil
	}
	img, err := tiff.Decode(bytes.NewReader(data))
	if err != nil {
		return "", nil, fmt.Errorf("failed to decode tiff image: %w", err)
	}
	var buf bytes.Buffer
	if err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 92}); err != nil {
		return "", nil, fmt.Errorf("failed to re-encode image: %w", err)
	}
	if idx := strings.LastIndexByte(filename, '.'); idx > 0 {
		filename = filename[:idx]
	}
	return filename + ".jpeg", buf.Bytes(), nil
}
