package smtp

import (
    "context"
    "crypto/tls"
    "errors"
    "fmt"

    "gopkg.in/gomail.v2"

    "github.com/amirimatin/go-replmon/pkg/notify"
)

// Options configures mail delivery.
type Options struct {
    From       string
    Recipients []string
    Host       string
    // Port defaults to 25.
    Port     int
    Username string
    Password string
    // TLS overrides the STARTTLS configuration when non-nil.
    TLS *tls.Config
}

type sender interface {
    DialAndSend(m ...*gomail.Message) error
}

// Notifier sends every alert as a plain-text email to all recipients.
type Notifier struct {
    opts   Options
    sender sender
}

func New(opts Options) (*Notifier, error) {
    if opts.From == "" { return nil, errors.New("smtp: empty from address") }
    if len(opts.Recipients) == 0 { return nil, errors.New("smtp: no recipients") }
    if opts.Host == "" { return nil, errors.New("smtp: empty host") }
    if opts.Port == 0 { opts.Port = 25 }
    d := gomail.NewDialer(opts.Host, opts.Port, opts.Username, opts.Password)
    if opts.TLS != nil { d.TLSConfig = opts.TLS }
    return &Notifier{opts: opts, sender: d}, nil
}

func (n *Notifier) Notify(ctx context.Context, a notify.Alert) error {
    if err := ctx.Err(); err != nil { return err }
    subject := a.Subject
    if subject == "" { subject = notify.DefaultSubject }
    m := gomail.NewMessage()
    m.SetHeader("From", n.opts.From)
    m.SetHeader("To", n.opts.Recipients...)
    m.SetHeader("Subject", subject)
    m.SetBody("text/plain", a.Message)
    if err := n.sender.DialAndSend(m); err != nil {
        return fmt.Errorf("smtp: send via %s:%d: %w", n.opts.Host, n.opts.Port, err)
    }
    return nil
}

var _ notify.Notifier = (*Notifier)(nil)
