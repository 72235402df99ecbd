// Command recover reconciles bots against the ledger on demand and prints a report.
// Run it while the api is stopped; a live engine should receive a "recover" command
// on the bot_commands queue instead.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"rebalancer/internal/recovery"
	"rebalancer/internal/statemachine"
	"rebalancer/pkg/config"
	"rebalancer/pkg/logger"
	mcsolana "rebalancer/pkg/solana"
)

func main() {
	userID := flag.String("user", "", "user id")
	vault := flag.String("vault", "", "vault address")
	all := flag.Bool("all", false, "recover every enabled bot")
	list := flag.Bool("list", false, "list bots without recovering")
	flag.Parse()

	settings := config.Load()
	logger.Init(settings.LoggerOptions())

	st := config.OpenStore(settings)
	ctx := context.Background()

	if *list {
		states, err := st.ListBotStates(ctx, false)
		if err != nil {
			log.Fatal("List bots failed: ", err)
		}
		renderBots(os.Stdout, states)
		return
	}

	if !*all && (*userID == "" || *vault == "") {
		fmt.Fprintln(os.Stderr, "usage: recover -user <id> -vault <address> | -all | -list")
		os.Exit(2)
	}

	ledger := mcsolana.NewLedger(settings.SolanaRPC, settings.StatusTimeout)
	registry := statemachine.NewRegistry(statemachine.Deps{
		Store:     st,
		Ledger:    ledger,
		Recovery:  recovery.NewProcedure(st, ledger, settings.RecoveryConfig()),
		Publisher: statemachine.StorePublisher(st),
	}, settings.StateMachineConfig())

	var statuses []recovery.RecoveryStatus
	if *all {
		var err error
		statuses, err = registry.RestoreEnabled(ctx)
		if err != nil {
			log.Fatal("Recovery failed: ", err)
		}
	} else {
		s, err := registry.PerformRecovery(ctx, *userID, *vault)
		if err != nil {
			log.Fatal("Recovery failed: ", err)
		}
		statuses = append(statuses, s)
	}
	renderStatuses(os.Stdout, statuses)
}
