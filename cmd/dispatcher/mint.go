package main

import (
	"errors"
	"fmt"
	"io"
)

type tokenSigner interface {
	Sign(subject, role string) (string, error)
}

// mintToken signs an operator token and writes it to w, one line.
func mintToken(w io.Writer, signer tokenSigner, subject, role string) error {
	if subject == "" {
		return errors.New("subject is required")
	}
	if role == "" {
		return errors.New("role is required")
	}
	token, err := signer.Sign(subject, role)
	if err != nil {
		return fmt.Errorf("sign token: %w", err)
	}
	_, err = fmt.Fprintln(w, token)
	return err
}
