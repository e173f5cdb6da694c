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
	"errors"
	"fmt"
)

// User-facing messages returned by Error.Error.
const (
	MsgConnection      = "Błąd połączenia. Sprawdź czy serwer działa."
	MsgParseText       = "Nie udało się przeanalizować tekstu. Spróbuj ponownie."
	MsgUnreadable      = "Nie udało się odczytać menu. Spróbuj wpisać ręcznie."
	MsgFileTooLarge    = "Plik jest za duży. Maksymalny rozmiar to 10MB."
	MsgUnsupportedType = "Nieobsługiwany format. Dozwolone: JPG, PNG, WEBP, HEIC."
	MsgMalformed       = "Nieprawidłowa odpowiedź serwera."
)

// Sentinels matched by errors.Is against an *Error of the corresponding Kind.
var (
	ErrConnection = errors.New("backend: connection failed")
	ErrUnreadable = errors.New("backend: unreadable menu")
	ErrRejected   = errors.New("backend: request rejected")
	ErrValidation = errors.New("backend: invalid upload")
	ErrMalformed  = errors.New("backend: malformed response")
)

// Kind classifies a failure.
type Kind int

const (
	KindConnection Kind = iota + 1
	KindUnreadable
	KindRejected
	KindValidation
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindUnreadable:
		return "unreadable"
	case KindRejected:
		return "rejected"
	case KindValidation:
		return "validation"
	case KindMalformed:
		return "malformed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindConnection:
		return ErrConnection
	case KindUnreadable:
		return ErrUnreadable
	case KindRejected:
		return ErrRejected
	case KindValidation:
		return ErrValidation
	case KindMalformed:
		return ErrMalformed
	}
	return nil
}

// Error is returned by every Client operation. Error() yields the message
// meant for the user; the cause stays reachable through Unwrap.
type Error struct {
	Op      string
	Kind    Kind
	Status  int    // HTTP status, 0 when no response was received
	Detail  string // server-provided detail, if any
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// StatusMessage is the generic message for a non-success status.
func StatusMessage(status int) string { return fmt.Sprintf("Błąd serwera: %d", status) }

// Message returns the user-facing text for err. Errors that did not come
// from this package fall back to the connection message.
func Message(err error) string {
	var be *Error
	if errors.As(err, &be) && be.Message != "" {
		return be.Message
	}
	return MsgConnection
}

func connErr(op string, err error) *Error {
	return &Error{Op: op, Kind: KindConnection, Message: MsgConnection, Err: err}
}

func statusErr(op string, status int, msg string) *Error {
	if msg == "" {
		msg = StatusMessage(status)
	}
	return &Error{Op: op, Kind: KindRejected, Status: status, Message: msg}
}

func malformedErr(op string, err error) *Error {
	return &Error{Op: op, Kind: KindMalformed, Message: MsgMalformed, Err: err}
}
