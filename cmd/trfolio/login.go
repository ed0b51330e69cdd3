package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/alejandrodnm/trfolio/internal/adapters/traderepublic"
)

// runPairing registra este dispositivo en la cuenta: pide el código de
// verificación por stdin y guarda la clave del dispositivo en disco.
func runPairing(ctx context.Context, session *traderepublic.Session, keyFile string) {
	if err := session.PairDevice(ctx); err != nil {
		slog.Error("failed to start device pairing", "err", err)
		os.Exit(1)
	}

	code, err := promptLine("Enter the verification code sent to your device: ")
	if err != nil {
		slog.Error("failed to read verification code", "err", err)
		os.Exit(1)
	}

	if err := session.ConfirmDevice(ctx, code); err != nil {
		slog.Error("device pairing failed", "err", err)
		os.Exit(1)
	}

	slog.Info("device paired, key written", "keyfile", keyFile)
}

// runWebLogin completa el login web: solicita el código SMS, lo lee de
// stdin (vacío reenvía el código) y valida la sesión por cookies.
func runWebLogin(ctx context.Context, session *traderepublic.Session) error {
	countdown, err := session.StartWebLogin(ctx)
	if err != nil {
		return fmt.Errorf("start web login: %w", err)
	}

	for {
		code, err := promptLine(fmt.Sprintf("Enter the SMS code (empty to resend, ~%ds): ", countdown))
		if err != nil {
			return fmt.Errorf("read SMS code: %w", err)
		}
		if code == "" {
			if err := session.ResendWebLoginCode(ctx); err != nil {
				return fmt.Errorf("resend SMS code: %w", err)
			}
			continue
		}
		return session.CompleteWebLogin(ctx, code)
	}
}

func promptLine(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
