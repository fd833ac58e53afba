package main

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"eventpay_echo/internal/config"
	"eventpay_echo/internal/reconcile"
)

func payCmd(cfg *config.Config, opts *globalOptions) *cobra.Command {
	var (
		eventID      uint
		method       string
		forceNew     bool
		cancelOnExit bool
	)
	cmd := &cobra.Command{
		Use:   "pay",
		Short: "Create a payment for an event and watch it until it settles",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			w := newWatcher()
			s, err := newEngine(cfg, opts).StartSession(ctx, reconcile.StartRequest{
				Method:   reconcile.Method(method),
				Order:    reconcile.OrderContext{EventID: eventID},
				ForceNew: forceNew,
				OnUpdate: w.push,
			})
			if err != nil {
				if s != nil {
					s.Teardown()
				}
				return err
			}
			printInstructions(s.Snapshot())
			return w.run(ctx, s, cancelOnExit)
		},
	}
	cmd.Flags().UintVarP(&eventID, "event", "e", 0, "Event id")
	cmd.Flags().StringVarP(&method, "method", "m", string(reconcile.MethodGateway), "Payment method: gateway, qr, bank_transfer or crypto")
	cmd.Flags().BoolVar(&forceNew, "force-new", false, "Abandon any pending payment and start over")
	cmd.Flags().BoolVar(&cancelOnExit, "cancel-on-exit", false, "Cancel the payment when interrupted")
	_ = cmd.MarkFlagRequired("event")
	return cmd
}

func watchCmd(cfg *config.Config, opts *globalOptions) *cobra.Command {
	var cancelOnExit bool
	cmd := &cobra.Command{
		Use:   "watch [orderId]",
		Short: "Resume an existing payment and watch it until it settles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			w := newWatcher()
			s, err := newEngine(cfg, opts).StartSession(ctx, reconcile.StartRequest{
				OrderID:  args[0],
				OnUpdate: w.push,
			})
			if err != nil {
				return err
			}
			printInstructions(s.Snapshot())
			return w.run(ctx, s, cancelOnExit)
		},
	}
	cmd.Flags().BoolVar(&cancelOnExit, "cancel-on-exit", false, "Cancel the payment when interrupted")
	return cmd
}

func syncCmd(cfg *config.Config, opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync [orderId]",
		Short: "Ask the gateway for the latest status once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newEngine(cfg, opts).StartSession(cmd.Context(), reconcile.StartRequest{OrderID: args[0]})
			if err != nil {
				return err
			}
			defer s.Teardown()

			u, err := s.ManualSync(cmd.Context())
			if err != nil {
				return err
			}
			printUpdate(u)
			return u.Err
		},
	}
}

func verifyCryptoCmd(cfg *config.Config, opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify-crypto [orderId] [txHash]",
		Short: "Submit the on-chain transaction hash of a crypto payment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !reconcile.ValidTxHash(args[1]) {
				return reconcile.ErrInvalidTxHash
			}
			s, err := newEngine(cfg, opts).StartSession(cmd.Context(), reconcile.StartRequest{OrderID: args[0]})
			if err != nil {
				return err
			}
			defer s.Teardown()

			u, err := s.VerifyCrypto(cmd.Context(), args[1])
			if err != nil {
				return err
			}
			printUpdate(u)
			if u.Err == nil {
				fmt.Printf("Submitted %s; a reviewer will confirm it shortly.\n", args[1])
			}
			return u.Err
		},
	}
}

// watcher coalesces session updates so the engine never blocks on output
type watcher struct {
	mu     sync.Mutex
	last   reconcile.StatusUpdate
	notify chan struct{}
}

func newWatcher() *watcher {
	return &watcher{notify: make(chan struct{}, 1)}
}

func (w *watcher) push(u reconcile.StatusUpdate) {
	w.mu.Lock()
	w.last = u
	w.mu.Unlock()
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

func (w *watcher) latest() reconcile.StatusUpdate {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

// run prints updates until the payment settles, the polling window ends or
// ctx is cancelled
func (w *watcher) run(ctx context.Context, s *reconcile.Session, cancelOnExit bool) error {
	defer s.Teardown()

	var printed reconcile.StatusUpdate
	for {
		select {
		case <-ctx.Done():
			if cancelOnExit && !s.Status().IsTerminal() {
				if err := s.Cancel(context.Background()); err != nil {
					return err
				}
				fmt.Println("Payment cancelled.")
			}
			return nil
		case <-w.notify:
		}

		u := w.latest()
		if u.Session.Status != printed.Session.Status || u.Session.RegistrationID != printed.Session.RegistrationID ||
			u.Session.PollingExpired || u.Err != nil || u.FinalizeErr != nil {
			printUpdate(u)
			printed = u
		}

		snap := u.Session
		switch {
		case snap.Status == reconcile.StatusPaid && snap.RegistrationID != "":
			fmt.Printf("Registration confirmed (id %s).\n", snap.RegistrationID)
			return nil
		case snap.Status == reconcile.StatusPaid && u.FinalizeErr != nil:
			return fmt.Errorf("payment received but registration failed, run `paycheck sync %s` to retry: %w", snap.OrderID, u.FinalizeErr)
		case snap.Status == reconcile.StatusFailed, snap.Status == reconcile.StatusCancelled:
			return fmt.Errorf("payment %s ended %s", snap.OrderID, snap.Status)
		case snap.PollingExpired:
			fmt.Printf("Stopped watching; run `paycheck sync %s` to check again.\n", snap.OrderID)
			return nil
		}
	}
}

func printInstructions(snap reconcile.PaymentSession) {
	fmt.Printf("Order %s (%s) %d %s, status %s\n", snap.OrderID, snap.Method, snap.Amount, snap.Currency, snap.Status)
	switch i := snap.Instructions.(type) {
	case reconcile.HostedCheckout:
		fmt.Printf("Open %s to pay.\n", i.RedirectURL)
	case reconcile.QRCode:
		fmt.Printf("Scan the QR code at %s.\n", i.ImageURL)
	case reconcile.BankTransfer:
		fmt.Printf("Transfer to %s virtual account %s.\n", i.Bank, i.VANumber)
	case reconcile.CryptoDeposit:
		fmt.Printf("Send to wallet %s, then run `paycheck verify-crypto %s <txHash>`.\n", i.WalletAddress, snap.OrderID)
	}
}

func printUpdate(u reconcile.StatusUpdate) {
	snap := u.Session
	line := fmt.Sprintf("[%s] %s", u.Source, snap.Status)
	if snap.StoreStatus != "" {
		line += fmt.Sprintf(" (store %s)", snap.StoreStatus)
	}
	if u.Err != nil {
		line += fmt.Sprintf(": %v", u.Err)
	}
	if u.FinalizeErr != nil {
		line += fmt.Sprintf(": registration failed: %v", u.FinalizeErr)
	}
	fmt.Println(line)
}
