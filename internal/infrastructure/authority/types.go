package authority

import (
	"encoding/xml"

	"github.com/shopspring/decimal"
)

// 接口名即请求路径：<base_url>/<operation>
const (
	OperationQueryMargin     = "consultarMargem"
	OperationReserveMargin   = "reservarMargem"
	OperationLiquidateMargin = "liquidarConsignacao"
)

// 表单字段
const (
	paramClient       = "cliente"
	paramTenant       = "convenio"
	paramUser         = "usuario"
	paramPassword     = "senha"
	paramRegistration = "matricula"
	paramTaxID        = "cpf"
	paramInstallment  = "valorParcela"
	paramTerm         = "prazo"
	paramIdentifier   = "adeIdentificador"
	paramReasonCode   = "codigoMotivoOperacao"
	paramReasonText   = "obsMotivoOperacao"
)

// MarginQuery 查询可用额度
type MarginQuery struct {
	RegistrationNumber string
	TaxID              string
	InstallmentValue   decimal.Decimal
	Term               int
}

// MarginResult 查询结果
type MarginResult struct {
	Margin  decimal.Decimal
	Code    string
	Message string
}

// ReserveRequest 预占额度
type ReserveRequest struct {
	RegistrationNumber string
	TaxID              string
	InstallmentValue   decimal.Decimal
	Term               int
	Identifier         string
}

// ReserveResult 预占结果
type ReserveResult struct {
	ContractNumber string
	Identifier     string
	Code           string
	Message        string
}

// LiquidateRequest 释放（结清）额度
type LiquidateRequest struct {
	RegistrationNumber string
	TaxID              string
	Identifier         string
	ReasonCode         string
	ReasonText         string
}

// LiquidateResult 释放结果
type LiquidateResult struct {
	Code    string
	Message string
}

// ============================================================================
// 响应结构
// ============================================================================
//
// 外部机构返回 SOAP 风格 XML，字段按本地名匹配（忽略 ns2:/tns: 等前缀）：
//
//   <soap:Envelope>
//     <soap:Body>
//       <ns2:consultarMargemResponse>
//         <ns2:sucesso>true</ns2:sucesso>
//         <ns2:codRetorno>000</ns2:codRetorno>
//         <ns2:mensagem>...</ns2:mensagem>
//         <ns2:valorMargem>1234.56</ns2:valorMargem>
//       </ns2:consultarMargemResponse>
//     </soap:Body>
//   </soap:Envelope>
//
// 部分版本把额度放在 <margem><valorMargem> 下，两种都接受。
// ============================================================================

type soapEnvelope struct {
	XMLName xml.Name `xml:"Envelope"`
	Body    soapBody `xml:"Body"`
}

type soapBody struct {
	Result *operationResult `xml:",any"`
}

type operationResult struct {
	XMLName        xml.Name
	Success        *string `xml:"sucesso"`
	Code           string  `xml:"codRetorno"`
	Message        string  `xml:"mensagem"`
	Margin         *string `xml:"valorMargem"`
	NestedMargin   *string `xml:"margem>valorMargem"`
	ContractNumber *string `xml:"adeNumero"`
	Identifier     *string `xml:"adeIdentificador"`
}
