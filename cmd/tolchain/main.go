// Command tolchain starts or administers a TOL Chain node.
package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tolelom/tolchain/config"
	"github.com/tolelom/tolchain/consensus"
	"github.com/tolelom/tolchain/core"
	"github.com/tolelom/tolchain/crypto"
	"github.com/tolelom/tolchain/crypto/certgen"
	"github.com/tolelom/tolchain/events"
	"github.com/tolelom/tolchain/indexer"
	"github.com/tolelom/tolchain/network"
	"github.com/tolelom/tolchain/rpc"
	"github.com/tolelom/tolchain/storage"
	"github.com/tolelom/tolchain/vm"
	"github.com/tolelom/tolchain/wallet"

	// Import VM modules to trigger their init() self-registration.
	_ "github.com/tolelom/tolchain/vm/modules/asset"
	_ "github.com/tolelom/tolchain/vm/modules/economy"
	_ "github.com/tolelom/tolchain/vm/modules/market"
	_ "github.com/tolelom/tolchain/vm/modules/session"
)

var (
	cfgPath string
	keyPath string
)

func main() {
	root := &cobra.Command{
		Use:   "tolchain",
		Short: "TOL Chain node",
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "config.toml", "path to config file")
	root.PersistentFlags().StringVar(&keyPath, "key", "validator.key", "path to keystore file")

	root.AddCommand(runCmd(), genKeyCmd(), genCertsCmd(), validateBlockCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func keystorePassword() string {
	password := os.Getenv("TOL_PASSWORD")
	if password == "" {
		log.Println("WARNING: TOL_PASSWORD not set — keystore will use an empty password")
	}
	return password
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("Config file not found at %s, using defaults.", path)
			return config.DefaultConfig(), nil
		}
		return nil, err
	}
	return cfg, nil
}

func genKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "genkey",
		Short: "Generate a new validator key and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			password := keystorePassword()
			w, err := wallet.Generate()
			if err != nil {
				return err
			}
			if err := wallet.SaveKey(keyPath, password, w.PrivKey()); err != nil {
				return err
			}
			fmt.Printf("Generated key. Public key (validator address): %s\n", w.PubKey())
			fmt.Printf("Saved to: %s\n", keyPath)
			return nil
		},
	}
}

func genCertsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gencerts [dir]",
		Short: "Generate a CA and node TLS certs into dir",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cfgPath)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			if err := certgen.GenerateAll(args[0], cfg.NodeID, nil); err != nil {
				return fmt.Errorf("gencerts: %w", err)
			}
			fmt.Printf("Certificates generated in %s for node %q\n", args[0], cfg.NodeID)
			return nil
		},
	}
}

func validateBlockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate-block [height]",
		Short: "Validate the block at a given height against the local chain and exit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var height int64
			if _, err := fmt.Sscanf(args[0], "%d", &height); err != nil {
				return fmt.Errorf("invalid height %q: %w", args[0], err)
			}

			cfg, err := loadConfig(cfgPath)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			db, err := storage.NewLevelDB(cfg.DataDir + "/chain")
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer db.Close()

			state := storage.NewStateDB(db)
			blockStore := storage.NewLevelBlockStore(db)
			bc := core.NewBlockchain(blockStore)
			if err := bc.Init(); err != nil {
				return fmt.Errorf("blockchain init: %w", err)
			}

			block, err := bc.GetBlockByHeight(height)
			if err != nil {
				return fmt.Errorf("get block at height %d: %w", height, err)
			}

			settings := cfg.Consensus.ToConsensusSettings()
			validator := consensus.NewValidator(settings, bc, state, nil)
			clock := consensus.SystemClock{}
			if err := validator.IsValidErr(block, clock.CorrectedTimeMs()); err != nil {
				return fmt.Errorf("block %d (%s) is invalid: %w", height, block.ID, err)
			}
			fmt.Printf("block %d (%s) is valid\n", height, block.ID)
			return nil
		},
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run a node: consensus, P2P networking and RPC",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNode()
		},
	}
}

func runNode() error {
	password := keystorePassword()

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	privKey, err := wallet.LoadKey(keyPath, password)
	if err != nil {
		return fmt.Errorf("load key: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("mkdir data dir: %w", err)
	}
	db, err := storage.NewLevelDB(cfg.DataDir + "/chain")
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	blockStore := storage.NewLevelBlockStore(db)
	state := storage.NewStateDB(db)

	bc := core.NewBlockchain(blockStore)
	if err := bc.Init(); err != nil {
		return fmt.Errorf("blockchain init: %w", err)
	}

	if bc.Tip() == nil {
		genesisBlock, err := config.CreateGenesisBlock(cfg, state, privKey)
		if err != nil {
			return fmt.Errorf("genesis: %w", err)
		}
		if err := bc.AddBlock(genesisBlock); err != nil {
			return fmt.Errorf("add genesis: %w", err)
		}
		log.Printf("Genesis block committed: %s", genesisBlock.ID)
	}

	emitter := events.NewEmitter()
	idx := indexer.New(db, emitter)
	pool := consensus.NewPool()
	exec := vm.NewExecutor(state, emitter)
	settings := cfg.Consensus.ToConsensusSettings()
	clock := consensus.SystemClock{}

	builder := consensus.NewBlockBuilder(bc, exec, state)
	txValidator := consensus.NewExecutorTransactionValidator(state)
	forger := consensus.NewForger(settings, bc, state, pool, txValidator, builder, nil)
	blockValidator := consensus.NewValidator(settings, bc, state, nil)
	syncValidator := consensus.NewSyncValidator(blockValidator, clock)

	tlsCfg, err := config.LoadTLSConfig(cfg.TLS)
	if err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	if tlsCfg != nil {
		log.Println("mTLS enabled for P2P")
	}

	p2pAddr := fmt.Sprintf(":%d", cfg.P2PPort)
	node := network.NewNode(cfg.NodeID, p2pAddr, pool, settings, tlsCfg)
	syncer := network.NewSyncer(node, bc, syncValidator, exec, state)
	if err := node.Start(); err != nil {
		return fmt.Errorf("p2p start: %w", err)
	}
	defer node.Stop()
	log.Printf("P2P listening on %s", p2pAddr)

	for _, sp := range cfg.SeedPeers {
		if err := node.AddPeer(sp.ID, sp.Addr); err != nil {
			log.Printf("seed peer %s (%s): %v", sp.ID, sp.Addr, err)
			continue
		}
		if peer := node.Peer(sp.ID); peer != nil {
			syncer.RequestBlocks(peer, bc.Height()+1)
		}
		log.Printf("Connected to seed peer %s (%s)", sp.ID, sp.Addr)
	}

	rpcAddr := fmt.Sprintf(":%d", cfg.RPCPort)
	rpcHandler := rpc.NewHandler(bc, pool, settings, state, idx, cfg.Genesis.ChainID)
	rpcServer := rpc.NewServer(rpcAddr, rpcHandler, cfg.RPCAuthToken)
	if err := rpcServer.Start(); err != nil {
		return fmt.Errorf("rpc start: %w", err)
	}
	defer rpcServer.Stop()
	log.Printf("RPC listening on %s", rpcAddr)
	if cfg.RPCAuthToken != "" {
		log.Println("RPC Bearer token authentication enabled")
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		forgeLoop(forger, bc, pool, node, settings, clock, privKey, state, done)
	}()
	log.Printf("Consensus running (validator: %s)", privKey.Public().Hex())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("Shutting down...")

	close(done)
	wg.Wait()

	log.Println("Shutdown complete.")
	return nil
}

// forgeLoop ticks once per second, asking the Forger whether this account
// may produce the next block. Most ticks return (nil, nil) — the account
// simply is not eligible yet — which is the expected steady state between
// forged blocks.
func forgeLoop(forger *consensus.Forger, bc *core.Blockchain, pool *consensus.Pool, node *network.Node, settings consensus.Settings, clock consensus.TimeSource, priv crypto.PrivateKey, state core.State, done <-chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			nowMs := clock.CorrectedTimeMs()
			// Snapshot before the attempt: BuildAndSign executes the packed
			// transactions into the state write buffer, and the buffer must
			// only survive if the block actually lands on the chain.
			snapID, err := state.Snapshot()
			if err != nil {
				log.Printf("[consensus] snapshot: %v", err)
				continue
			}
			block, err := forger.TryGenerateNextBlock(priv, nowMs)
			if err != nil || block == nil {
				_ = state.RevertToSnapshot(snapID)
				if err != nil {
					log.Printf("[consensus] forge attempt failed: %v", err)
				}
				continue
			}
			if err := bc.AddBlock(block); err != nil {
				_ = state.RevertToSnapshot(snapID)
				log.Printf("[consensus] add forged block: %v", err)
				continue
			}
			if err := state.Commit(); err != nil {
				log.Fatalf("[consensus] FATAL: state commit for block %d failed: %v", block.Header.Height, err)
			}
			ids := make([]string, len(block.Transactions))
			for i, tx := range block.Transactions {
				ids[i] = tx.ID
			}
			pool.RemoveApplied(ids, settings, nowMs)
			node.BroadcastBlock(block)
			log.Printf("[consensus] broadcast block %d (%s)", block.Header.Height, block.ID)
		}
	}
}
