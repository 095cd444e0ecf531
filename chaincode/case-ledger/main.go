package main

import (
	"log"
	"os"
	"strconv"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"

	"github.com/medrex/caseledger/chaincode/case-ledger/caseledger"
	"github.com/medrex/caseledger/pkg/logger"
)

func main() {
	requireGrant, _ := strconv.ParseBool(os.Getenv("CASELEDGER_REQUIRE_DOCTOR_GRANT"))
	contract := caseledger.NewSmartContract(caseledger.Options{
		RequireDoctorGrant: requireGrant,
		Logger:             logger.New(os.Getenv("CORE_CHAINCODE_LOGGING_LEVEL")),
	})

	caseLedgerChaincode, err := contractapi.NewChaincode(contract)
	if err != nil {
		log.Panicf("Error creating CaseLedger chaincode: %v", err)
	}

	if err := caseLedgerChaincode.Start(); err != nil {
		log.Panicf("Error starting CaseLedger chaincode: %v", err)
	}
}
