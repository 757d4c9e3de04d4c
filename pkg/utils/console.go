package utils

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// AskForCode prompts on out until a valid session code is read from in.
func AskForCode(ctx context.Context, in io.Reader, out io.Writer) (string, error) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- strings.TrimSpace(scanner.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(out, "Enter code from sender: ")

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case code, ok := <-lines:
			if !ok {
				return "", io.ErrUnexpectedEOF
			}
			if IsValidCode(code) {
				return code, nil
			}
			fmt.Fprintf(out, "Invalid code. Please enter again.\n")
		}
	}
}
