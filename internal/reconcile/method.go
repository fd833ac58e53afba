package reconcile

// Method is the payment method picked at checkout
type Method string

const (
	MethodGateway      Method = "gateway"
	MethodQR           Method = "qr"
	MethodBankTransfer Method = "bank_transfer"
	MethodCrypto       Method = "crypto"
)

func (m Method) Valid() bool {
	switch m {
	case MethodGateway, MethodQR, MethodBankTransfer, MethodCrypto:
		return true
	}
	return false
}

// Instructions is what the payer needs to complete a payment with a given
// method. The concrete type always matches the session's Method.
type Instructions interface {
	Method() Method
	isInstructions()
}

// HostedCheckout sends the payer to a gateway hosted page
type HostedCheckout struct {
	RedirectURL string `json:"redirect_url"`
	Token       string `json:"token,omitempty"`
}

// QRCode is scanned from a banking or e-wallet app
type QRCode struct {
	ImageURL string `json:"qr_code_url"`
}

// BankTransfer is paid into a virtual account
type BankTransfer struct {
	Bank     string `json:"bank"`
	VANumber string `json:"va_number"`
}

// CryptoDeposit is paid on chain; the payer reports the tx hash afterwards
type CryptoDeposit struct {
	WalletAddress string `json:"wallet_address"`
}

func (HostedCheckout) Method() Method { return MethodGateway }
func (QRCode) Method() Method         { return MethodQR }
func (BankTransfer) Method() Method   { return MethodBankTransfer }
func (CryptoDeposit) Method() Method  { return MethodCrypto }

func (HostedCheckout) isInstructions() {}
func (QRCode) isInstructions()         {}
func (BankTransfer) isInstructions()   {}
func (CryptoDeposit) isInstructions()  {}

// RedirectURL returns the hosted checkout URL, if any
func RedirectURL(i Instructions) string {
	if hc, ok := i.(HostedCheckout); ok {
		return hc.RedirectURL
	}
	return ""
}
