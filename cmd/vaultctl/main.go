// Command vaultctl - консольный клиент сервера HeirVault.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/google/uuid"

	"github.com/maynagashev/heirvault/internal/api"
	"github.com/maynagashev/heirvault/internal/ledger"
	"github.com/maynagashev/heirvault/internal/models"
)

const (
	envServer = "HEIRVAULT_SERVER"
	envToken  = "HEIRVAULT_TOKEN" //nolint:gosec // Имя переменной окружения

	defaultServer  = "http://localhost:8443"
	requestTimeout = 30 * time.Second
)

func main() {
	if err := run(os.Args[1:], os.Stdout, api.NewHTTPClient); err != nil {
		fmt.Fprintf(os.Stderr, "vaultctl: %v\n", err)
		os.Exit(1)
	}
}

// cli хранит значения флагов и аргументов команд.
type cli struct {
	server string
	token  string

	username string
	password string

	owner         string
	amount        uint64
	reward        uint64
	window        time.Duration
	beneficiaries []string

	limit   int
	offset  int
	eventID string

	vaults []string
	to     string
}

// run разбирает аргументы и выполняет команду. Результат печатается в out в формате JSON.
func run(args []string, out io.Writer, newClient func(baseURL string) api.Client) error {
	var c cli
	app := kingpin.New("vaultctl", "Управление хранилищами наследования HeirVault.")
	app.Flag("server", "Адрес сервера").Envar(envServer).Default(defaultServer).StringVar(&c.server)
	app.Flag("token", "JWT токен, полученный командой login").Envar(envToken).StringVar(&c.token)

	register := app.Command("register", "Зарегистрировать пользователя.")
	register.Arg("username", "Имя пользователя").Required().StringVar(&c.username)
	register.Arg("password", "Пароль").Required().StringVar(&c.password)

	login := app.Command("login", "Войти и получить токен.")
	login.Arg("username", "Имя пользователя").Required().StringVar(&c.username)
	login.Arg("password", "Пароль").Required().StringVar(&c.password)

	create := app.Command("create", "Создать собственное хранилище.")
	create.Flag("amount", "Сумма депозита в лампортах").Required().Uint64Var(&c.amount)
	create.Flag("reward", "Вознаграждение запустившему наследование").Uint64Var(&c.reward)
	create.Flag("window", "Окно неактивности, например 720h").Required().DurationVar(&c.window)
	create.Flag("beneficiary", "Наследник в виде АДРЕС:BPS (можно повторять)").Required().StringsVar(&c.beneficiaries)

	get := app.Command("get", "Показать хранилище.")
	get.Arg("owner", "Адрес владельца").Required().StringVar(&c.owner)

	deposit := app.Command("deposit", "Пополнить собственное хранилище.")
	deposit.Arg("amount", "Сумма в лампортах").Required().Uint64Var(&c.amount)

	heartbeat := app.Command("heartbeat", "Подтвердить активность.")
	heartbeat.Arg("owner", "Адрес владельца").Required().StringVar(&c.owner)

	redeem := app.Command("redeem", "Погасить расписки хранилища.")
	redeem.Arg("owner", "Адрес владельца").Required().StringVar(&c.owner)
	redeem.Arg("amount", "Количество расписок").Required().Uint64Var(&c.amount)

	trigger := app.Command("trigger", "Запустить наследование.")
	trigger.Arg("owner", "Адрес владельца").Required().StringVar(&c.owner)

	events := app.Command("events", "Показать журнал событий хранилища.")
	events.Arg("owner", "Адрес владельца").Required().StringVar(&c.owner)
	events.Flag("limit", "Количество событий").Default("20").IntVar(&c.limit)
	events.Flag("offset", "Смещение").Default("0").IntVar(&c.offset)

	event := app.Command("event", "Показать копию события из архива.")
	event.Arg("owner", "Адрес владельца").Required().StringVar(&c.owner)
	event.Arg("id", "ID события").Required().StringVar(&c.eventID)

	account := app.Command("account", "Показать балансы.")
	account.Flag("vault", "Учитывать расписки хранилища владельца (можно повторять)").StringsVar(&c.vaults)

	transfer := app.Command("transfer", "Перевести расписки.")
	transfer.Arg("owner", "Адрес владельца хранилища").Required().StringVar(&c.owner)
	transfer.Arg("to", "Адрес получателя").Required().StringVar(&c.to)
	transfer.Arg("amount", "Количество расписок").Required().Uint64Var(&c.amount)

	command, err := app.Parse(args)
	if err != nil {
		return err
	}

	client := newClient(c.server)
	if c.token != "" {
		client.SetAuthToken(c.token)
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	var result any
	switch command {
	case register.FullCommand():
		result, err = client.Register(ctx, c.username, c.password)
	case login.FullCommand():
		var resp models.LoginResponse
		resp.Token, resp.Address, err = client.Login(ctx, c.username, c.password)
		result = resp
	case create.FullCommand():
		result, err = c.create(ctx, client)
	case get.FullCommand():
		result, err = withOwner(c.owner, func(owner ledger.Address) (any, error) {
			return client.GetVault(ctx, owner)
		})
	case deposit.FullCommand():
		result, err = client.Deposit(ctx, c.amount)
	case heartbeat.FullCommand():
		result, err = withOwner(c.owner, func(owner ledger.Address) (any, error) {
			return client.Heartbeat(ctx, owner)
		})
	case redeem.FullCommand():
		result, err = withOwner(c.owner, func(owner ledger.Address) (any, error) {
			return client.Redeem(ctx, owner, c.amount)
		})
	case trigger.FullCommand():
		result, err = withOwner(c.owner, func(owner ledger.Address) (any, error) {
			return client.TriggerInheritance(ctx, owner)
		})
	case events.FullCommand():
		result, err = withOwner(c.owner, func(owner ledger.Address) (any, error) {
			return client.ListEvents(ctx, owner, c.limit, c.offset)
		})
	case event.FullCommand():
		result, err = withOwner(c.owner, func(owner ledger.Address) (any, error) {
			id, parseErr := uuid.Parse(c.eventID)
			if parseErr != nil {
				return nil, fmt.Errorf("неверный ID события: %w", parseErr)
			}
			return client.GetArchivedEvent(ctx, owner, id)
		})
	case account.FullCommand():
		result, err = c.account(ctx, client)
	case transfer.FullCommand():
		result, err = c.transfer(ctx, client)
	}
	if err != nil {
		return err
	}
	return printJSON(out, result)
}

func (c *cli) create(ctx context.Context, client api.Client) (*models.Event, error) {
	bens, err := parseBeneficiaries(c.beneficiaries)
	if err != nil {
		return nil, err
	}
	return client.CreateVault(ctx, models.CreateVaultRequest{
		Amount:                  c.amount,
		Reward:                  c.reward,
		InactivityWindowSeconds: int64(c.window / time.Second),
		Beneficiaries:           bens,
	})
}

func (c *cli) account(ctx context.Context, client api.Client) (*models.AccountResponse, error) {
	owners := make([]ledger.Address, 0, len(c.vaults))
	for _, raw := range c.vaults {
		owner, err := ledger.ParseAddress(raw)
		if err != nil {
			return nil, err
		}
		owners = append(owners, owner)
	}
	return client.GetAccount(ctx, owners...)
}

func (c *cli) transfer(ctx context.Context, client api.Client) (map[string]any, error) {
	owner, err := ledger.ParseAddress(c.owner)
	if err != nil {
		return nil, err
	}
	to, err := ledger.ParseAddress(c.to)
	if err != nil {
		return nil, err
	}
	req := models.TokenTransferRequest{VaultOwner: owner, To: to, Amount: c.amount}
	if err = client.Transfer(ctx, req); err != nil {
		return nil, err
	}
	return map[string]any{"transferred": c.amount, "to": to}, nil
}

// withOwner разбирает адрес владельца и вызывает fn.
func withOwner(raw string, fn func(owner ledger.Address) (any, error)) (any, error) {
	owner, err := ledger.ParseAddress(raw)
	if err != nil {
		return nil, err
	}
	return fn(owner)
}

// parseBeneficiaries разбирает значения вида АДРЕС:BPS.
func parseBeneficiaries(values []string) (models.Beneficiaries, error) {
	bens := make(models.Beneficiaries, 0, len(values))
	for _, v := range values {
		addrPart, bpsPart, ok := strings.Cut(v, ":")
		if !ok {
			return nil, fmt.Errorf("наследник %q: ожидается АДРЕС:BPS", v)
		}
		addr, err := ledger.ParseAddress(addrPart)
		if err != nil {
			return nil, fmt.Errorf("наследник %q: %w", v, err)
		}
		bps, err := strconv.ParseUint(bpsPart, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("наследник %q: неверная доля: %w", v, err)
		}
		bens = append(bens, models.Beneficiary{Address: addr, ShareBps: uint16(bps)})
	}
	return bens, nil
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
