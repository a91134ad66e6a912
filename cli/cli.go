// Package cli is the command-line driver around the ledger engine,
// wallet collection, address index, and network server. It validates
// arguments and wires flags to those collaborators; it holds no
// ledger logic of its own.
package cli

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/sirupsen/logrus"

	"github.com/petiibhuzah/utxoledger/index"
	"github.com/petiibhuzah/utxoledger/ledger"
	"github.com/petiibhuzah/utxoledger/network"
	"github.com/petiibhuzah/utxoledger/wallet"
)

type CommandLine struct {
	Log *logrus.Logger
}

func New() *CommandLine {
	return &CommandLine{Log: logrus.StandardLogger()}
}

func (cli *CommandLine) printUsage() {
	fmt.Println("Usage:")
	fmt.Println(" getbalance -address ADDRESS - get the balance of an address")
	fmt.Println(" send -from FROM -to TO -amount AMOUNT -mine - send coins; -mine mines immediately on this node")
	fmt.Println(" createwallet - create a new wallet")
	fmt.Println(" listaddresses - list the addresses in our wallet file")
	fmt.Println(" reindex - rebuild the address index from the ledger's UTXO set")
	fmt.Println(" printchain - print every block in the chain log")
	fmt.Println(" startnode -miner ADDRESS - start a node specified in NODE_ID env var; -miner is validated and logged, the node does not mine")
}

func (cli *CommandLine) validateArgs() {
	if len(os.Args) < 2 {
		cli.printUsage()
		runtime.Goexit()
	}
}

func (cli *CommandLine) stateDir(nodeID string) string {
	return filepath.Join(".", "tmp", "node_"+nodeID, "state")
}

func (cli *CommandLine) indexDir(nodeID string) string {
	return filepath.Join(".", "tmp", "node_"+nodeID, "index")
}

func (cli *CommandLine) openEngine(nodeID string) *ledger.Engine {
	engine, err := ledger.NewEngine(cli.stateDir(nodeID))
	if err != nil {
		cli.Log.WithError(err).Fatal("failed to open ledger engine")
	}
	return engine
}

func (cli *CommandLine) openIndex(nodeID string) *index.AddressIndex {
	idx, err := index.Open(cli.indexDir(nodeID))
	if err != nil {
		cli.Log.WithError(err).Fatal("failed to open address index")
	}
	return idx
}

func (cli *CommandLine) getBalance(address, nodeID string) {
	if !wallet.ValidateAddress(address) {
		cli.Log.Fatal("invalid address")
	}

	engine := cli.openEngine(nodeID)
	defer engine.Close()
	idx := cli.openIndex(nodeID)
	defer idx.Close()

	if err := idx.Rebuild(engine.UTXOSnapshot()); err != nil {
		cli.Log.WithError(err).Fatal("failed to rebuild address index")
	}

	decoded := wallet.Base58Decode([]byte(address))
	pubKeyHash := decoded[1 : len(decoded)-4]

	balance, err := idx.Balance(pubKeyHash)
	if err != nil {
		cli.Log.WithError(err).Fatal("failed to read balance")
	}
	fmt.Printf("Balance of %s: %d\n", address, balance)
}

func (cli *CommandLine) send(from, to string, amount uint32, nodeID string, mineNow bool) {
	if !wallet.ValidateAddress(from) {
		cli.Log.Fatal("invalid from address")
	}
	if !wallet.ValidateAddress(to) {
		cli.Log.Fatal("invalid to address")
	}

	engine := cli.openEngine(nodeID)
	defer engine.Close()

	wallets, err := wallet.CreateWallets(nodeID)
	if err != nil {
		cli.Log.WithError(err).Fatal("failed to load wallets")
	}
	fromWallet, ok := wallets.GetWallet(from)
	if !ok {
		cli.Log.Fatal("no local wallet for the from address")
	}
	toWallet, ok := wallets.GetWallet(to)
	if !ok {
		cli.Log.Fatal("no local wallet for the to address")
	}

	idx := cli.openIndex(nodeID)
	defer idx.Close()
	if err := idx.Rebuild(engine.UTXOSnapshot()); err != nil {
		cli.Log.WithError(err).Fatal("failed to rebuild address index")
	}

	pubKeyHash := wallet.PublicKeyHash(fromWallet.PublicKey)
	spendable, err := idx.Lookup(pubKeyHash)
	if err != nil {
		cli.Log.WithError(err).Fatal("failed to look up spendable outputs")
	}

	tx := ledger.NewTransaction()
	var collected uint32
	for _, entry := range spendable {
		if collected >= amount {
			break
		}
		tx.Inputs = append(tx.Inputs, fromWallet.SignTransactionInput(entry.OutPoint.TxID, entry.OutPoint.OutputIndex))
		collected += entry.Amount
	}
	if collected < amount {
		cli.Log.Fatal("insufficient balance")
	}

	tx.Outputs = append(tx.Outputs, ledger.Output{ToPubKey: toWallet.PublicKey, Amount: amount})
	if collected > amount {
		tx.Outputs = append(tx.Outputs, ledger.Output{ToPubKey: fromWallet.PublicKey, Amount: collected - amount})
	}

	fee, err := engine.SubmitTransaction(tx)
	if err != nil {
		cli.Log.WithError(err).Fatal("transaction rejected")
	}

	if mineNow {
		coinbase := ledger.NewTransaction()
		coinbase.Outputs = []ledger.Output{{ToPubKey: fromWallet.PublicKey, Amount: engine.Reward() + fee}}
		block := engine.BuildAndMineBlock(coinbase)
		if err := engine.SubmitBlock(block); err != nil {
			cli.Log.WithError(err).Fatal("failed to submit mined block")
		}
		fmt.Println("mined block", block.Hash())
	} else {
		fmt.Println("transaction submitted to mempool, fee", fee)
	}
}

func (cli *CommandLine) printChain(nodeID string) {
	engine := cli.openEngine(nodeID)
	defer engine.Close()

	fmt.Printf("chain height: %d\n", engine.BlockHeight())
	fmt.Printf("tip: %s\n", engine.PreviousBlockHash())

	reader, err := engine.OpenChainReader()
	if err != nil {
		cli.Log.WithError(err).Fatal("failed to open chain log")
	}
	defer reader.Close()

	var pos int64
	for {
		block, next, err := reader.ReadForward(pos)
		if err == io.EOF {
			break
		}
		if err != nil {
			cli.Log.WithError(err).Fatal("failed to read chain log")
		}
		fmt.Printf("block %s (prev %s, %d tx)\n", block.Hash(), block.PreviousBlock, len(block.Transactions))
		pos = next
	}
}

func (cli *CommandLine) reindex(nodeID string) {
	engine := cli.openEngine(nodeID)
	defer engine.Close()
	idx := cli.openIndex(nodeID)
	defer idx.Close()

	if err := idx.Rebuild(engine.UTXOSnapshot()); err != nil {
		cli.Log.WithError(err).Fatal("failed to rebuild address index")
	}
	fmt.Println("address index rebuilt")
}

func (cli *CommandLine) listAddresses(nodeID string) {
	wallets, err := wallet.CreateWallets(nodeID)
	if err != nil {
		cli.Log.WithError(err).Fatal("failed to load wallets")
	}
	for _, address := range wallets.GetAllAddresses() {
		fmt.Println(address)
	}
}

func (cli *CommandLine) createWallet(nodeID string) {
	wallets, err := wallet.CreateWallets(nodeID)
	if err != nil {
		cli.Log.WithError(err).Fatal("failed to load wallets")
	}
	address, err := wallets.AddWallet(nodeID)
	if err != nil {
		cli.Log.WithError(err).Fatal("failed to create wallet")
	}
	fmt.Printf("new wallet created with address: %s\n", address)
}

func (cli *CommandLine) startNode(nodeID, minerAddress string) {
	if minerAddress != "" && !wallet.ValidateAddress(minerAddress) {
		cli.Log.Fatal("invalid miner address")
	}

	engine := cli.openEngine(nodeID)
	self := fmt.Sprintf("localhost:%s", nodeID)
	server := network.NewServer(engine, self, cli.Log)

	cli.Log.WithFields(logrus.Fields{"node": nodeID, "addr": self, "mining": minerAddress != ""}).Info("starting node")
	if err := server.ListenAndServe(self); err != nil {
		cli.Log.WithError(err).Fatal("server exited")
	}
}

func (cli *CommandLine) Run() {
	cli.validateArgs()

	nodeID := os.Getenv("NODE_ID")
	if nodeID == "" {
		fmt.Println("NODE_ID env is not set!")
		runtime.Goexit()
	}

	getBalanceCMD := flag.NewFlagSet("getbalance", flag.ExitOnError)
	sendCMD := flag.NewFlagSet("send", flag.ExitOnError)
	printChainCMD := flag.NewFlagSet("printchain", flag.ExitOnError)
	createWalletCMD := flag.NewFlagSet("createwallet", flag.ExitOnError)
	listAddressesCMD := flag.NewFlagSet("listaddresses", flag.ExitOnError)
	reindexCMD := flag.NewFlagSet("reindex", flag.ExitOnError)
	startNodeCMD := flag.NewFlagSet("startnode", flag.ExitOnError)

	getBalanceAddress := getBalanceCMD.String("address", "", "wallet address to get the balance of")
	sendFrom := sendCMD.String("from", "", "source wallet address")
	sendTo := sendCMD.String("to", "", "destination wallet address")
	sendAmount := sendCMD.Uint("amount", 0, "amount to send")
	sendMine := sendCMD.Bool("mine", false, "mine immediately on this node")
	startNodeMiner := startNodeCMD.String("miner", "", "miner ADDRESS; validated and logged only, the node does not mine")

	if len(os.Args) < 2 {
		cli.printUsage()
		runtime.Goexit()
	}

	switch os.Args[1] {
	case "getbalance":
		exitOn(getBalanceCMD.Parse(os.Args[2:]))
	case "send":
		exitOn(sendCMD.Parse(os.Args[2:]))
	case "printchain":
		exitOn(printChainCMD.Parse(os.Args[2:]))
	case "createwallet":
		exitOn(createWalletCMD.Parse(os.Args[2:]))
	case "listaddresses":
		exitOn(listAddressesCMD.Parse(os.Args[2:]))
	case "reindex":
		exitOn(reindexCMD.Parse(os.Args[2:]))
	case "startnode":
		exitOn(startNodeCMD.Parse(os.Args[2:]))
	default:
		cli.printUsage()
		runtime.Goexit()
	}

	switch {
	case getBalanceCMD.Parsed():
		if *getBalanceAddress == "" {
			getBalanceCMD.Usage()
			runtime.Goexit()
		}
		cli.getBalance(*getBalanceAddress, nodeID)
	case printChainCMD.Parsed():
		cli.printChain(nodeID)
	case createWalletCMD.Parsed():
		cli.createWallet(nodeID)
	case listAddressesCMD.Parsed():
		cli.listAddresses(nodeID)
	case reindexCMD.Parsed():
		cli.reindex(nodeID)
	case sendCMD.Parsed():
		if *sendFrom == "" || *sendTo == "" || *sendAmount == 0 {
			sendCMD.Usage()
			runtime.Goexit()
		}
		cli.send(*sendFrom, *sendTo, uint32(*sendAmount), nodeID, *sendMine)
	case startNodeCMD.Parsed():
		cli.startNode(nodeID, *startNodeMiner)
	}
}

func exitOn(err error) {
	if err != nil {
		logrus.WithError(err).Fatal("failed to parse arguments")
	}
}
