/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package backend

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

// MaxUploadSize is the largest photo accepted for upload.
const MaxUploadSize = 10 * 1024 * 1024

// AllowedImageTypes lists the photo MIME types the backend can read.
var AllowedImageTypes = []string{"image/jpeg", "image/png", "image/webp", "image/heic"}

// Photo is an image queued for upload.
type Photo struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ValidateUpload rejects oversized files and recognized but disallowed types.
// An empty content type passes; the server decides.
func ValidateUpload(size int64, contentType string) error {
	if size > MaxUploadSize {
		return &Error{Op: "validate", Kind: KindValidation, Message: MsgFileTooLarge}
	}
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	if ct == "" {
		return nil
	}
	for _, a := range AllowedImageTypes {
		if ct == a {
			return nil
		}
	}
	return &Error{Op: "validate", Kind: KindValidation, Message: MsgUnsupportedType}
}

// LoadPhoto reads an image from disk after validating its size and type.
// The type is derived from the file extension; unknown extensions yield an
// empty type.
func LoadPhoto(path string) (Photo, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return Photo{}, err
	}
	if fi.IsDir() {
		return Photo{}, fmt.Errorf("photo %s is a directory", path)
	}
	ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if err := ValidateUpload(fi.Size(), ct); err != nil {
		return Photo{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Photo{}, err
	}
	return Photo{Filename: filepath.Base(path), ContentType: ct, Data: data}, nil
}
