// Command keystore manages the encrypted vault delegate keys the engine signs swaps
// with.
package main

import (
	"flag"
	"fmt"

	log "github.com/sirupsen/logrus"

	"rebalancer/pkg/config"
	"rebalancer/pkg/logger"
	mcsolana "rebalancer/pkg/solana"
)

func main() {
	// 解析命令行参数
	dir := flag.String("dir", "", "keystore directory (default KEYSTORE_DIR)")
	password := flag.String("password", "", "keystore password (default KEYSTORE_PASSWORD)")
	generate := flag.Bool("generate", false, "generate a new delegate key")
	secret := flag.String("import", "", "import a base58 secret key")
	check := flag.String("check", "", "decrypt the entry for an address")
	flag.Parse()

	settings := config.Load()
	logger.Init(settings.LoggerOptions())

	if *dir == "" {
		*dir = settings.KeystoreDir
	}
	if *password == "" {
		*password = settings.KeyPassword
	}
	km := mcsolana.NewKeyManager(*dir)

	switch {
	case *generate:
		address, err := generateEntry(km, *password)
		if err != nil {
			log.Fatal("Generate key failed: ", err)
		}
		fmt.Println(address)
	case *secret != "":
		address, err := importEntry(km, *secret, *password)
		if err != nil {
			log.Fatal("Import key failed: ", err)
		}
		fmt.Println(address)
	case *check != "":
		if err := checkEntry(km, *check, *password); err != nil {
			log.Fatal("Keystore check failed: ", err)
		}
		log.WithField("address", *check).Info("keystore entry ok")
	default:
		flag.Usage()
	}
}
