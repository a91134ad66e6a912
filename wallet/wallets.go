package wallet

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
)

const walletFile = "./tmp/wallets_%s.data"

// Wallets is a collection of key pairs persisted together, keyed by
// their own Base58 address.
type Wallets struct {
	Wallets map[string]*Wallet
}

// CreateWallets loads a node's wallet collection from disk, or returns
// an empty one if no file exists yet.
func CreateWallets(nodeID string) (*Wallets, error) {
	ws := &Wallets{Wallets: make(map[string]*Wallet)}
	err := ws.LoadFile(nodeID)
	return ws, err
}

// AddWallet generates a fresh key pair, stores it under its derived
// address, and persists the collection.
func (ws *Wallets) AddWallet(nodeID string) (string, error) {
	wallet, err := MakeWallet()
	if err != nil {
		return "", err
	}

	address := string(wallet.Address())
	ws.Wallets[address] = wallet

	if err := ws.SaveFile(nodeID); err != nil {
		return "", err
	}
	return address, nil
}

func (ws *Wallets) GetAllAddresses() []string {
	addresses := make([]string, 0, len(ws.Wallets))
	for address := range ws.Wallets {
		addresses = append(addresses, address)
	}
	return addresses
}

func (ws *Wallets) GetWallet(address string) (*Wallet, bool) {
	w, ok := ws.Wallets[address]
	return w, ok
}

func (ws *Wallets) LoadFile(nodeID string) error {
	filePath := fmt.Sprintf(walletFile, nodeID)
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return nil
	}

	fileContent, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("read wallet file: %w", err)
	}

	var loaded Wallets
	if err := gob.NewDecoder(bytes.NewReader(fileContent)).Decode(&loaded); err != nil {
		return fmt.Errorf("decode wallet file: %w", err)
	}

	ws.Wallets = loaded.Wallets
	return nil
}

func (ws *Wallets) SaveFile(nodeID string) error {
	if err := os.MkdirAll("./tmp", 0o755); err != nil {
		return fmt.Errorf("create wallet dir: %w", err)
	}

	var content bytes.Buffer
	if err := gob.NewEncoder(&content).Encode(ws); err != nil {
		return fmt.Errorf("encode wallets: %w", err)
	}

	filePath := fmt.Sprintf(walletFile, nodeID)
	if err := os.WriteFile(filePath, content.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write wallet file: %w", err)
	}
	return nil
}
