package fundd

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"invfund/config"
	"invfund/core/events"
	"invfund/native/accounting"
	"invfund/native/orders"
	"invfund/native/pcf"
	"invfund/native/rebalance"
	"invfund/storage"
)

var (
	tokenBalancePrefix = "fund/token/balance/"
	tokenSupplyKey     = []byte("fund/token/supply")
	poolAssetPrefix    = "fund/pool/asset/"
	whitelistPrefix    = "fund/whitelist/"
)

// ErrUnknownAsset is returned for assets outside the configured custody set.
var ErrUnknownAsset = errors.New("fundd: unknown custody asset")

// TokenBook is the storage-backed register of inverse token balances. It
// satisfies both the order engine's token interface and the calculator's
// supply source.
type TokenBook struct {
	store *storage.KVStore
}

func NewTokenBook(store *storage.KVStore) *TokenBook {
	return &TokenBook{store: store}
}

func tokenBalanceKey(addr [20]byte) []byte {
	return []byte(tokenBalancePrefix + hex.EncodeToString(addr[:]))
}

func (b *TokenBook) balance(addr [20]byte) (*big.Int, error) {
	var raw string
	ok, err := b.store.KVGet(tokenBalanceKey(addr), &raw)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	out, good := new(big.Int).SetString(raw, 10)
	if !good {
		return nil, fmt.Errorf("fundd: corrupt token balance %q", raw)
	}
	return out, nil
}

func (b *TokenBook) putBalance(addr [20]byte, amount *big.Int) error {
	return b.store.KVPut(tokenBalanceKey(addr), amount.String())
}

// BalanceOf returns the inverse token balance held by the address.
func (b *TokenBook) BalanceOf(addr [20]byte) (*big.Int, error) {
	return b.balance(addr)
}

// TotalSupply returns the outstanding inverse token supply.
func (b *TokenBook) TotalSupply() (*big.Int, error) {
	var raw string
	ok, err := b.store.KVGet(tokenSupplyKey, &raw)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	out, good := new(big.Int).SetString(raw, 10)
	if !good {
		return nil, fmt.Errorf("fundd: corrupt token supply %q", raw)
	}
	return out, nil
}

func (b *TokenBook) putSupply(amount *big.Int) error {
	return b.store.KVPut(tokenSupplyKey, amount.String())
}

func (b *TokenBook) Mint(to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("fundd: mint amount must be non-negative")
	}
	balance, err := b.balance(to)
	if err != nil {
		return err
	}
	if err := b.putBalance(to, new(big.Int).Add(balance, amount)); err != nil {
		return err
	}
	supply, err := b.TotalSupply()
	if err != nil {
		return err
	}
	return b.putSupply(new(big.Int).Add(supply, amount))
}

func (b *TokenBook) Burn(from [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("fundd: burn amount must be non-negative")
	}
	balance, err := b.balance(from)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("fundd: burn exceeds balance")
	}
	if err := b.putBalance(from, new(big.Int).Sub(balance, amount)); err != nil {
		return err
	}
	supply, err := b.TotalSupply()
	if err != nil {
		return err
	}
	return b.putSupply(new(big.Int).Sub(supply, amount))
}

func (b *TokenBook) Transfer(from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("fundd: transfer amount must be non-negative")
	}
	fromBalance, err := b.balance(from)
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return fmt.Errorf("fundd: transfer exceeds balance")
	}
	toBalance, err := b.balance(to)
	if err != nil {
		return err
	}
	if err := b.putBalance(from, new(big.Int).Sub(fromBalance, amount)); err != nil {
		return err
	}
	return b.putBalance(to, new(big.Int).Add(toBalance, amount))
}

// CustodyPool tracks the stablecoin hot-wallet inventory per asset, in the
// asset's native decimal scale. Outbound transfers only debit the inventory;
// the actual send happens off-core.
type CustodyPool struct {
	store    *storage.KVStore
	decimals map[string]uint8
}

func NewCustodyPool(store *storage.KVStore, assets map[string]uint8) *CustodyPool {
	decimals := make(map[string]uint8, len(assets))
	for asset, dec := range assets {
		decimals[strings.ToUpper(strings.TrimSpace(asset))] = dec
	}
	return &CustodyPool{store: store, decimals: decimals}
}

func poolAssetKey(asset string) []byte {
	return []byte(poolAssetPrefix + strings.ToUpper(strings.TrimSpace(asset)))
}

func (p *CustodyPool) Decimals(asset string) (uint8, error) {
	decimals, ok := p.decimals[strings.ToUpper(strings.TrimSpace(asset))]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownAsset, asset)
	}
	return decimals, nil
}

func (p *CustodyPool) Balance(asset string) (*big.Int, error) {
	if _, err := p.Decimals(asset); err != nil {
		return nil, err
	}
	var raw string
	ok, err := p.store.KVGet(poolAssetKey(asset), &raw)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	out, good := new(big.Int).SetString(raw, 10)
	if !good {
		return nil, fmt.Errorf("fundd: corrupt pool balance %q", raw)
	}
	return out, nil
}

// Deposit credits inventory observed arriving at the custody wallet.
func (p *CustodyPool) Deposit(asset string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("fundd: deposit amount must be positive")
	}
	balance, err := p.Balance(asset)
	if err != nil {
		return err
	}
	return p.store.KVPut(poolAssetKey(asset), new(big.Int).Add(balance, amount).String())
}

func (p *CustodyPool) Transfer(asset string, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("fundd: transfer amount must be non-negative")
	}
	balance, err := p.Balance(asset)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("fundd: pool balance exceeded for %s", asset)
	}
	return p.store.KVPut(poolAssetKey(asset), new(big.Int).Sub(balance, amount).String())
}

// Whitelist is the storage-backed set of addresses cleared for orders.
type Whitelist struct {
	store *storage.KVStore
}

func NewWhitelist(store *storage.KVStore) *Whitelist {
	return &Whitelist{store: store}
}

func whitelistKey(addr [20]byte) []byte {
	return []byte(whitelistPrefix + hex.EncodeToString(addr[:]))
}

func (w *Whitelist) IsWhitelisted(addr [20]byte) bool {
	var flag bool
	ok, err := w.store.KVGet(whitelistKey(addr), &flag)
	if err != nil {
		return false
	}
	return ok && flag
}

func (w *Whitelist) Add(addr [20]byte) error {
	return w.store.KVPut(whitelistKey(addr), true)
}

func (w *Whitelist) Remove(addr [20]byte) error {
	return w.store.KVPut(whitelistKey(addr), false)
}

// Node bundles the fund engines over a shared storage backend. All mutating
// operations serialise through a single mutex, matching the single-writer
// execution model the engines assume.
type Node struct {
	mu sync.Mutex

	ledger     *accounting.Ledger
	journal    *orders.Journal
	processor  *orders.Engine
	calculator *pcf.Calculator
	rebalancer *rebalance.Engine
	token      *TokenBook
	pool       *CustodyPool
	whitelist  *Whitelist

	orchestrator [20]byte
	poolAddr     [20]byte
}

// NewNode wires the engines over the supplied database and seeds the ledger
// from the fund parameters when the store is empty.
func NewNode(db storage.Database, params *config.FundParams) (*Node, error) {
	kv := storage.NewKVStore(db)
	node := &Node{
		ledger:       accounting.NewLedger(kv, params.Orchestrator),
		journal:      orders.NewJournal(kv),
		token:        NewTokenBook(kv),
		pool:         NewCustodyPool(kv, params.Assets),
		whitelist:    NewWhitelist(kv),
		orchestrator: params.Orchestrator,
		poolAddr:     params.Pool,
	}

	node.calculator = pcf.NewCalculator(node.ledger, node.token)
	node.rebalancer = rebalance.NewEngine(node.calculator, node.ledger)

	node.processor = orders.NewEngine(node.journal)
	node.processor.SetIdentity(node.whitelist)
	node.processor.SetToken(node.token)
	node.processor.SetCustodyPool(node.pool)
	node.processor.SetPricer(node.calculator)
	node.processor.SetPoolAddress(params.Pool)

	if err := node.seed(params); err != nil {
		return nil, err
	}
	return node, nil
}

// SetEmitter propagates the event emitter to every engine.
func (n *Node) SetEmitter(emitter events.Emitter) {
	n.ledger.SetEmitter(emitter)
	n.processor.SetEmitter(emitter)
	n.rebalancer.SetEmitter(emitter)
}

func (n *Node) seed(params *config.FundParams) error {
	if _, err := n.ledger.Config(); errors.Is(err, accounting.ErrNotInitialised) {
		if err := n.ledger.SetConfig(n.orchestrator, params.Accounting); err != nil {
			return fmt.Errorf("seed fund config: %w", err)
		}
	} else if err != nil {
		return err
	}

	for _, addr := range params.Whitelist {
		if !n.whitelist.IsWhitelisted(addr) {
			if err := n.whitelist.Add(addr); err != nil {
				return err
			}
		}
	}

	if params.Genesis == nil {
		return nil
	}
	_, err := n.ledger.CurrentAccounting()
	if err == nil {
		return nil
	}
	if !errors.Is(err, accounting.ErrNoAccounting) {
		return err
	}
	genesis := params.Genesis
	if err := n.ledger.SetAccounting(n.orchestrator, time.Now().Unix(),
		genesis.Price, genesis.CashPerToken, genesis.BalancePerToken, genesis.LendingFee); err != nil {
		return fmt.Errorf("seed genesis accounting: %w", err)
	}
	if genesis.InitialSupply != nil && genesis.InitialSupply.Sign() > 0 {
		holder := genesis.InitialHolder
		if holder == ([20]byte{}) {
			holder = n.poolAddr
		}
		if err := n.token.Mint(holder, genesis.InitialSupply); err != nil {
			return fmt.Errorf("seed genesis supply: %w", err)
		}
	}
	return nil
}
