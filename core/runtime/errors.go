package runtime

import "errors"

var (
	ErrGasExhausted              = errors.New("runtime: exceeded the prepaid gas")
	ErrNoContract                = errors.New("runtime: no contract deployed at receiver")
	ErrMethodNotFound            = errors.New("runtime: method not found")
	ErrInsufficientNativeBalance = errors.New("runtime: insufficient native balance for attached deposit")
	ErrUnknownReceipt            = errors.New("runtime: unknown receipt")
	ErrProhibitedInView          = errors.New("runtime: state changes are not allowed in view calls")
	ErrInvalidPromise            = errors.New("runtime: promise does not belong to this invocation")
	ErrContractSigner            = errors.New("runtime: a contract cannot sign calls to itself")
)
